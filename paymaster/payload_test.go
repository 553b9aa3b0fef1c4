package paymaster

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSignature() []byte {
	sig := bytes.Repeat([]byte{0x11}, SignatureLength)
	sig[64] = 27
	return sig
}

func TestEncodeDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload *Payload
	}{
		{
			name: "typical window",
			payload: &Payload{
				Sponsor:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
				Window:    ValidityWindow{ValidAfter: 1700000000, ValidUntil: 1700003600},
				Signature: testSignature(),
			},
		},
		{
			name: "zero window",
			payload: &Payload{
				Sponsor:   common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff"),
				Signature: testSignature(),
			},
		},
		{
			name: "max uint48 bounds",
			payload: &Payload{
				Sponsor:   common.HexToAddress("0x1234567890123456789012345678901234567890"),
				Window:    ValidityWindow{ValidAfter: MaxUint48, ValidUntil: MaxUint48},
				Signature: testSignature(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePayload(tt.payload)
			require.NoError(t, err)
			require.Len(t, data, MinPayloadLength)

			decoded, err := DecodePayload(data)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, decoded)
		})
	}
}

func TestEncodePayload_Layout(t *testing.T) {
	p := &Payload{
		Sponsor:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Window:    ValidityWindow{ValidAfter: 0x0102, ValidUntil: 0x0a0b0c},
		Signature: testSignature(),
	}

	data, err := EncodePayload(p)
	require.NoError(t, err)

	// every header field is right-aligned in its own 32-byte word
	assert.Equal(t, make([]byte, 12), data[0:12])
	assert.Equal(t, p.Sponsor.Bytes(), data[12:32])
	assert.Equal(t, make([]byte, 29), data[32:61])
	assert.Equal(t, []byte{0x0a, 0x0b, 0x0c}, data[61:64])
	assert.Equal(t, make([]byte, 30), data[64:94])
	assert.Equal(t, []byte{0x01, 0x02}, data[94:96])
	assert.Equal(t, p.Signature, data[96:])
}

func TestDecodePayload_SignatureLength(t *testing.T) {
	header, err := EncodeHeader(common.HexToAddress("0xa1"), ValidityWindow{ValidUntil: 10})
	require.NoError(t, err)

	for _, sigLen := range []int{0, 2, 64, 66, 130} {
		data := append(append([]byte{}, header...), make([]byte, sigLen)...)
		_, err := DecodePayload(data)
		assert.ErrorIs(t, err, ErrMalformedPayload, "signature length %d", sigLen)
	}

	_, err = DecodePayload(header[:40])
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodePayload_DirtyPadding(t *testing.T) {
	data, err := EncodePayload(&Payload{
		Sponsor:   common.HexToAddress("0xa1"),
		Window:    ValidityWindow{ValidUntil: 10},
		Signature: testSignature(),
	})
	require.NoError(t, err)

	for _, offset := range []int{0, 11, 32, 57, 64, 89} {
		dirty := append([]byte{}, data...)
		dirty[offset] = 0x01
		_, err := DecodePayload(dirty)
		assert.ErrorIs(t, err, ErrNonCanonicalPayload, "dirty byte at %d", offset)
		assert.Equal(t, "non-canonical paymasterAndData header", err.Error())
	}
}

func TestParsePayload_Unsigned(t *testing.T) {
	window := ValidityWindow{ValidAfter: 5, ValidUntil: 50}
	header, err := EncodeHeader(common.HexToAddress("0xa1"), window)
	require.NoError(t, err)

	p, err := ParsePayload(header)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xa1"), p.Sponsor)
	assert.Equal(t, window, p.Window)
	assert.Empty(t, p.Signature)

	_, err = DecodePayload(header)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestEncodePayload_Errors(t *testing.T) {
	_, err := EncodePayload(&Payload{Signature: []byte{1, 2}})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = EncodePayload(&Payload{
		Window:    ValidityWindow{ValidUntil: MaxUint48 + 1},
		Signature: testSignature(),
	})
	assert.True(t, errors.Is(err, ErrWindowOverflow))
}

func TestSplitPaymasterAndData(t *testing.T) {
	paymaster := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	payload := []byte{1, 2, 3}

	addr, rest, err := SplitPaymasterAndData(append(paymaster.Bytes(), payload...))
	require.NoError(t, err)
	assert.Equal(t, paymaster, addr)
	assert.Equal(t, payload, rest)

	_, _, err = SplitPaymasterAndData([]byte{1, 2})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
