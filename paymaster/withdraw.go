package paymaster

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var withdrawTag = crypto.Keccak256Hash([]byte("paymaster.withdraw"))

// WithdrawAuthorization is what a sponsor's owner signs to release funds.
// Nonce is picked by the owner; the ledger honours each digest once.
type WithdrawAuthorization struct {
	Sponsor   common.Address
	Recipient common.Address
	Amount    *big.Int
	Nonce     *big.Int
	// Deadline is the last unix second the authorization is valid.
	Deadline uint64
}

var withdrawArgs abi.Arguments

func init() {
	bytes32Type, _ := abi.NewType("bytes32", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	addressType, _ := abi.NewType("address", "", nil)

	withdrawArgs = abi.Arguments{
		{Type: bytes32Type}, // tag
		{Type: uint256Type}, // chainId
		{Type: addressType}, // paymaster
		{Type: addressType}, // sponsor
		{Type: addressType}, // recipient
		{Type: uint256Type}, // amount
		{Type: uint256Type}, // nonce
		{Type: uint256Type}, // deadline
	}
}

// WithdrawDigest is the hash the owner signs as a personal message.
func WithdrawDigest(auth *WithdrawAuthorization, binding Binding) (common.Hash, error) {
	if binding.ChainID == nil {
		return common.Hash{}, fmt.Errorf("chain id is required")
	}
	if auth.Amount == nil || auth.Amount.Sign() <= 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	nonce := auth.Nonce
	if nonce == nil {
		nonce = new(big.Int)
	}

	encoded, err := withdrawArgs.Pack(
		withdrawTag,
		binding.ChainID,
		binding.Paymaster,
		auth.Sponsor,
		auth.Recipient,
		auth.Amount,
		nonce,
		new(big.Int).SetUint64(auth.Deadline),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode withdraw authorization: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// SignWithdraw signs auth for binding with the owner's key.
func (s *Signer) SignWithdraw(auth *WithdrawAuthorization, binding Binding) ([]byte, error) {
	digest, err := WithdrawDigest(auth, binding)
	if err != nil {
		return nil, err
	}
	return s.SignHash(digest)
}
