package paymaster

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Binding ties a hash to one deployment so that a payload signed for one chain
// or paymaster cannot be replayed against another.
type Binding struct {
	ChainID   *big.Int
	Paymaster common.Address
}

var (
	packedOpArgs abi.Arguments
	hashArgs     abi.Arguments
)

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	uint48Type, _ := abi.NewType("uint48", "", nil)
	bytes32Type, _ := abi.NewType("bytes32", "", nil)
	bytesType, _ := abi.NewType("bytes", "", nil)

	packedOpArgs = abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // hashedInitCode
		{Type: bytes32Type}, // hashedCallData
		{Type: uint256Type}, // callGasLimit
		{Type: uint256Type}, // verificationGasLimit
		{Type: uint256Type}, // preVerificationGas
		{Type: uint256Type}, // maxFeePerGas
		{Type: uint256Type}, // maxPriorityFeePerGas
	}

	hashArgs = abi.Arguments{
		{Type: bytesType},   // packed user operation
		{Type: uint256Type}, // chainId
		{Type: addressType}, // paymaster
		{Type: addressType}, // sponsor
		{Type: uint48Type},  // validUntil
		{Type: uint48Type},  // validAfter
	}
}

// ComputeHash returns the commitment the trusted authority signs. It covers the
// operation's immutable fields, the sponsor and the validity window, and leaves
// out the signature and the paymaster data itself.
func ComputeHash(op *erc4337.UserOperation, sponsor common.Address, window ValidityWindow, binding Binding) (common.Hash, error) {
	if op == nil {
		return common.Hash{}, errors.New("user operation is nil")
	}
	if binding.ChainID == nil {
		return common.Hash{}, errors.New("binding chain id is nil")
	}
	if err := window.validate(); err != nil {
		return common.Hash{}, err
	}

	packedOp, err := packUserOp(op)
	if err != nil {
		return common.Hash{}, err
	}

	encoded, err := hashArgs.Pack(
		packedOp,
		binding.ChainID,
		binding.Paymaster,
		sponsor,
		new(big.Int).SetUint64(window.ValidUntil),
		new(big.Int).SetUint64(window.ValidAfter),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode paymaster hash: %w", err)
	}

	return crypto.Keccak256Hash(encoded), nil
}

func packUserOp(op *erc4337.UserOperation) ([]byte, error) {
	initCode := op.PackUserOp().InitCode

	packed, err := packedOpArgs.Pack(
		op.Sender,
		bigOrZero(op.Nonce),
		crypto.Keccak256Hash(initCode),
		crypto.Keccak256Hash(op.CallData),
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack user operation: %w", err)
	}
	return packed, nil
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}
