package erc4337

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EntryPointV07 address constant
var EntryPointV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

// UserOperation represents the ERC-4337 user operation structure
type UserOperation struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory"`
	FactoryData                   hexutil.Bytes   `json:"factoryData"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// quantityFields lists the numeric fields by JSON name.
func (uo *UserOperation) quantityFields() map[string]**hexutil.Big {
	return map[string]**hexutil.Big{
		"nonce":                         &uo.Nonce,
		"callGasLimit":                  &uo.CallGasLimit,
		"verificationGasLimit":          &uo.VerificationGasLimit,
		"preVerificationGas":            &uo.PreVerificationGas,
		"maxPriorityFeePerGas":          &uo.MaxPriorityFeePerGas,
		"maxFeePerGas":                  &uo.MaxFeePerGas,
		"paymasterVerificationGasLimit": &uo.PaymasterVerificationGasLimit,
		"paymasterPostOpGasLimit":       &uo.PaymasterPostOpGasLimit,
	}
}

// UnmarshalJSON accepts quantities the way bundlers and wallets actually send
// them: "0x"-prefixed hex with or without leading zeros, or plain decimal.
func (uo *UserOperation) UnmarshalJSON(data []byte) error {
	type Alias UserOperation
	aux := struct {
		*Alias
		Nonce                         json.RawMessage `json:"nonce"`
		CallGasLimit                  json.RawMessage `json:"callGasLimit"`
		VerificationGasLimit          json.RawMessage `json:"verificationGasLimit"`
		PreVerificationGas            json.RawMessage `json:"preVerificationGas"`
		MaxPriorityFeePerGas          json.RawMessage `json:"maxPriorityFeePerGas"`
		MaxFeePerGas                  json.RawMessage `json:"maxFeePerGas"`
		PaymasterVerificationGasLimit json.RawMessage `json:"paymasterVerificationGasLimit"`
		PaymasterPostOpGasLimit       json.RawMessage `json:"paymasterPostOpGasLimit"`
	}{
		Alias: (*Alias)(uo),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := map[string]json.RawMessage{
		"nonce":                         aux.Nonce,
		"callGasLimit":                  aux.CallGasLimit,
		"verificationGasLimit":          aux.VerificationGasLimit,
		"preVerificationGas":            aux.PreVerificationGas,
		"maxPriorityFeePerGas":          aux.MaxPriorityFeePerGas,
		"maxFeePerGas":                  aux.MaxFeePerGas,
		"paymasterVerificationGasLimit": aux.PaymasterVerificationGasLimit,
		"paymasterPostOpGasLimit":       aux.PaymasterPostOpGasLimit,
	}

	for name, field := range uo.quantityFields() {
		value, err := parseQuantity(raw[name])
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*field = value
	}
	return nil
}

// parseQuantity returns nil for absent or null values.
func parseQuantity(raw json.RawMessage) (*hexutil.Big, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// bare JSON number
		s = string(raw)
	}
	s = strings.TrimSpace(s)

	value := new(big.Int)
	switch {
	case s == "" || s == "0x" || s == "0X":
		// empty quantity means zero
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		if _, ok := value.SetString(s[2:], 16); !ok {
			return nil, fmt.Errorf("invalid hex quantity: %s", s)
		}
	default:
		if _, ok := value.SetString(s, 10); !ok {
			return nil, fmt.Errorf("invalid decimal quantity: %s", s)
		}
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative quantity: %s", s)
	}
	return (*hexutil.Big)(value), nil
}

// PackedUserOp represents the packed version of UserOperation for ERC-4337
type PackedUserOp struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

// PackUserOp packs a UserOperation into a PackedUserOp according to ERC-4337 specification
func (uo *UserOperation) PackUserOp() *PackedUserOp {
	packed := &PackedUserOp{
		Sender:             uo.Sender,
		Nonce:              toBig(uo.Nonce),
		InitCode:           uo.InitCode(),
		CallData:           uo.CallData,
		PreVerificationGas: toBig(uo.PreVerificationGas),
		PaymasterAndData:   uo.PaymasterAndData(),
		Signature:          uo.Signature,
	}

	// verificationGasLimit and callGasLimit, 16 bytes each
	packUint128Pair(packed.AccountGasLimits[:], uo.VerificationGasLimit, uo.CallGasLimit)
	// maxPriorityFeePerGas and maxFeePerGas, 16 bytes each
	packUint128Pair(packed.GasFees[:], uo.MaxPriorityFeePerGas, uo.MaxFeePerGas)

	return packed
}

// InitCode is factory || factoryData, or empty when the account exists.
func (uo *UserOperation) InitCode() []byte {
	if uo.Factory == nil || len(uo.FactoryData) == 0 {
		return []byte{}
	}
	initCode := make([]byte, 0, common.AddressLength+len(uo.FactoryData))
	initCode = append(initCode, uo.Factory.Bytes()...)
	return append(initCode, uo.FactoryData...)
}

// PaymasterAndData is paymaster || verificationGasLimit(16) || postOpGasLimit(16) || paymasterData.
func (uo *UserOperation) PaymasterAndData() []byte {
	if uo.Paymaster == nil {
		return []byte{}
	}
	out := make([]byte, 52, 52+len(uo.PaymasterData))
	copy(out, uo.Paymaster.Bytes())
	packUint128Pair(out[20:52], uo.PaymasterVerificationGasLimit, uo.PaymasterPostOpGasLimit)
	return append(out, uo.PaymasterData...)
}

func packUint128Pair(dst []byte, hi, lo *hexutil.Big) {
	putUint128(dst[0:16], hi)
	putUint128(dst[16:32], lo)
}

// putUint128 left-pads v into a 16-byte slot, keeping the low 128 bits.
func putUint128(dst []byte, v *hexutil.Big) {
	b := toBig(v).Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	copy(dst[16-len(b):], b)
}

func toBig(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}

var (
	userOpArgs abi.Arguments
	finalArgs  abi.Arguments
)

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	bytes32Type, _ := abi.NewType("bytes32", "", nil)

	userOpArgs = abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // hashedInitCode
		{Type: bytes32Type}, // hashedCallData
		{Type: bytes32Type}, // accountGasLimits
		{Type: uint256Type}, // preVerificationGas
		{Type: bytes32Type}, // gasFees
		{Type: bytes32Type}, // hashedPaymasterAndData
	}

	finalArgs = abi.Arguments{
		{Type: bytes32Type}, // userOpHash
		{Type: addressType}, // entryPoint
		{Type: uint256Type}, // chainId
	}
}

// UserOpHash computes the v0.7 user operation hash for the given entry point and chain.
func (uo *UserOperation) UserOpHash(entryPoint common.Address, chainId *big.Int) (common.Hash, error) {
	packed := uo.PackUserOp()

	userOpEncoded, err := userOpArgs.Pack(
		packed.Sender,
		packed.Nonce,
		crypto.Keccak256Hash(packed.InitCode),
		crypto.Keccak256Hash(packed.CallData),
		packed.AccountGasLimits,
		packed.PreVerificationGas,
		packed.GasFees,
		crypto.Keccak256Hash(packed.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode user operation: %w", err)
	}

	finalEncoded, err := finalArgs.Pack(crypto.Keccak256Hash(userOpEncoded), entryPoint, chainId)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode final hash: %w", err)
	}

	return crypto.Keccak256Hash(finalEncoded), nil
}

// GetUserOpHashV07 hashes against the canonical v0.7 entry point.
func (uo *UserOperation) GetUserOpHashV07(chainId *big.Int) (common.Hash, error) {
	return uo.UserOpHash(EntryPointV07, chainId)
}

// WithPaymasterData returns a copy of uo carrying paymasterData. The receiver
// is never modified.
func (uo *UserOperation) WithPaymasterData(paymaster common.Address, paymasterData []byte) *UserOperation {
	cp := *uo
	cp.Paymaster = &paymaster
	cp.PaymasterData = append(hexutil.Bytes{}, paymasterData...)
	return &cp
}
