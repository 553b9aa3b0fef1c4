package paymaster

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContextLength is abi.encode(address, uint256, bytes32) followed by a seal.
const ContextLength = 3*wordSize + SignatureLength

// contextTag separates context seals from every other digest the authority signs.
var contextTag = crypto.Keccak256Hash([]byte("paymaster.postOpContext"))

// PostOpContext is what an accepted validation hands to PostOp.
type PostOpContext struct {
	Sponsor common.Address
	MaxCost *big.Int
	// OpHash is the validation hash of the operation, settled at most once.
	OpHash common.Hash
}

var contextArgs, sealArgs abi.Arguments

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	bytes32Type, _ := abi.NewType("bytes32", "", nil)

	contextArgs = abi.Arguments{
		{Type: addressType}, // sponsor
		{Type: uint256Type}, // maxCost
		{Type: bytes32Type}, // opHash
	}
	sealArgs = abi.Arguments{
		{Type: bytes32Type}, // tag
		{Type: uint256Type}, // chainId
		{Type: addressType}, // paymaster
		{Type: addressType}, // sponsor
		{Type: uint256Type}, // maxCost
		{Type: bytes32Type}, // opHash
	}
}

// ContextDigest is the hash sealed into a context for binding.
func ContextDigest(c *PostOpContext, binding Binding) (common.Hash, error) {
	if binding.ChainID == nil || c.MaxCost == nil {
		return common.Hash{}, ErrInvalidContext
	}
	encoded, err := sealArgs.Pack(contextTag, binding.ChainID, binding.Paymaster, c.Sponsor, c.MaxCost, c.OpHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode paymaster context seal: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// EncodeContext lays out c followed by its 65-byte seal.
func EncodeContext(c *PostOpContext, seal []byte) ([]byte, error) {
	if len(seal) != SignatureLength || c.MaxCost == nil {
		return nil, ErrInvalidContext
	}
	data, err := contextArgs.Pack(c.Sponsor, c.MaxCost, c.OpHash)
	if err != nil {
		return nil, fmt.Errorf("failed to encode paymaster context: %w", err)
	}
	return append(data, seal...), nil
}

// DecodeContext splits a context into its fields and seal. It checks layout
// only; Engine.PostOp also checks the seal.
func DecodeContext(data []byte) (*PostOpContext, []byte, error) {
	if len(data) != ContextLength {
		return nil, nil, ErrInvalidContext
	}
	values, err := contextArgs.Unpack(data[:3*wordSize])
	if err != nil || len(values) != 3 {
		return nil, nil, ErrInvalidContext
	}
	sponsor, ok := values[0].(common.Address)
	if !ok {
		return nil, nil, ErrInvalidContext
	}
	maxCost, ok := values[1].(*big.Int)
	if !ok {
		return nil, nil, ErrInvalidContext
	}
	opHash, ok := values[2].([32]byte)
	if !ok {
		return nil, nil, ErrInvalidContext
	}

	seal := make([]byte, SignatureLength)
	copy(seal, data[3*wordSize:])
	return &PostOpContext{Sponsor: sponsor, MaxCost: maxCost, OpHash: opHash}, seal, nil
}
