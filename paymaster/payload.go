package paymaster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// wordSize is the width of one ABI slot in the payload header.
	wordSize = 32

	// HeaderLength covers sponsor, validUntil and validAfter.
	HeaderLength = 3 * wordSize

	// SignatureLength is the only accepted signature blob size (r, s, v).
	SignatureLength = 65

	// MinPayloadLength is the shortest payload DecodePayload accepts.
	MinPayloadLength = HeaderLength + SignatureLength

	// MaxUint48 bounds validUntil and validAfter.
	MaxUint48 = 1<<48 - 1
)

var headerArgs abi.Arguments

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint48Type, _ := abi.NewType("uint48", "", nil)

	headerArgs = abi.Arguments{
		{Type: addressType}, // sponsor
		{Type: uint48Type},  // validUntil
		{Type: uint48Type},  // validAfter
	}
}

// Payload is the authorization attached to a sponsored operation, i.e. the
// paymaster data following the paymaster address.
type Payload struct {
	Sponsor   common.Address
	Window    ValidityWindow
	Signature []byte
}

// DecodePayload parses a payload whose signature must be exactly 65 bytes.
// Any other shape fails with ErrMalformedPayload before signature recovery is
// ever attempted.
func DecodePayload(data []byte) (*Payload, error) {
	if len(data) < MinPayloadLength || len(data)-HeaderLength != SignatureLength {
		return nil, ErrMalformedPayload
	}

	p, err := ParsePayload(data)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ParsePayload decodes the fixed header and returns whatever follows it as the
// signature, without checking its length. Tooling uses it to inspect payloads
// that are still waiting for a signature.
func ParsePayload(data []byte) (*Payload, error) {
	if len(data) < HeaderLength {
		return nil, ErrMalformedPayload
	}

	sponsorWord := data[0:wordSize]
	untilWord := data[wordSize : 2*wordSize]
	afterWord := data[2*wordSize : 3*wordSize]

	// ABI decoding rejects dirty high-order bits, so do we.
	if !isZero(sponsorWord[:wordSize-common.AddressLength]) ||
		!isZero(untilWord[:wordSize-6]) ||
		!isZero(afterWord[:wordSize-6]) {
		return nil, ErrNonCanonicalPayload
	}

	signature := make([]byte, len(data)-HeaderLength)
	copy(signature, data[HeaderLength:])

	return &Payload{
		Sponsor: common.BytesToAddress(sponsorWord[wordSize-common.AddressLength:]),
		Window: ValidityWindow{
			ValidUntil: readUint48(untilWord),
			ValidAfter: readUint48(afterWord),
		},
		Signature: signature,
	}, nil
}

// EncodePayload is the inverse of DecodePayload.
func EncodePayload(p *Payload) ([]byte, error) {
	if len(p.Signature) != SignatureLength {
		return nil, ErrMalformedPayload
	}
	header, err := EncodeHeader(p.Sponsor, p.Window)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, MinPayloadLength)
	out = append(out, header...)
	out = append(out, p.Signature...)
	return out, nil
}

// EncodeHeader packs the 96-byte header, abi.encode(address, uint48, uint48).
func EncodeHeader(sponsor common.Address, window ValidityWindow) ([]byte, error) {
	if err := window.validate(); err != nil {
		return nil, err
	}
	header, err := headerArgs.Pack(
		sponsor,
		new(big.Int).SetUint64(window.ValidUntil),
		new(big.Int).SetUint64(window.ValidAfter),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack payload header: %w", err)
	}
	return header, nil
}

// SplitPaymasterAndData separates a packed paymasterAndData field into the
// paymaster address and the payload that follows it.
func SplitPaymasterAndData(paymasterAndData []byte) (common.Address, []byte, error) {
	if len(paymasterAndData) < common.AddressLength {
		return common.Address{}, nil, ErrMalformedPayload
	}
	return common.BytesToAddress(paymasterAndData[:common.AddressLength]),
		paymasterAndData[common.AddressLength:], nil
}

func readUint48(word []byte) uint64 {
	var buf [8]byte
	copy(buf[2:], word[wordSize-6:])
	return binary.BigEndian.Uint64(buf[:])
}

func isZero(b []byte) bool {
	return len(bytes.TrimLeft(b, "\x00")) == 0
}
