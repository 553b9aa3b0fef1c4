package paymaster

import (
	"math/big"
	"testing"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPaymaster = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testSponsor   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testChainID   = big.NewInt(1337)
)

func testUserOp() *erc4337.UserOperation {
	factory := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	return &erc4337.UserOperation{
		Sender:                        common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                         (*hexutil.Big)(big.NewInt(7)),
		Factory:                       &factory,
		FactoryData:                   hexutil.MustDecode("0x1234"),
		CallData:                      hexutil.MustDecode("0xb61d27f6"),
		CallGasLimit:                  (*hexutil.Big)(big.NewInt(100000)),
		VerificationGasLimit:          (*hexutil.Big)(big.NewInt(200000)),
		PreVerificationGas:            (*hexutil.Big)(big.NewInt(50000)),
		MaxPriorityFeePerGas:          (*hexutil.Big)(big.NewInt(1000000000)),
		MaxFeePerGas:                  (*hexutil.Big)(big.NewInt(2000000000)),
		PaymasterVerificationGasLimit: (*hexutil.Big)(big.NewInt(60000)),
		PaymasterPostOpGasLimit:       (*hexutil.Big)(big.NewInt(40000)),
	}
}

func testBinding() Binding {
	return Binding{ChainID: testChainID, Paymaster: testPaymaster}
}

func TestComputeHash_Deterministic(t *testing.T) {
	window := ValidityWindow{ValidAfter: 100, ValidUntil: 200}

	h1, err := ComputeHash(testUserOp(), testSponsor, window, testBinding())
	require.NoError(t, err)
	h2, err := ComputeHash(testUserOp(), testSponsor, window, testBinding())
	require.NoError(t, err)

	assert.NotEqual(t, common.Hash{}, h1)
	assert.Equal(t, h1, h2)
}

func TestComputeHash_BoundFields(t *testing.T) {
	window := ValidityWindow{ValidAfter: 100, ValidUntil: 200}
	base, err := ComputeHash(testUserOp(), testSponsor, window, testBinding())
	require.NoError(t, err)

	opChanges := []struct {
		name   string
		mutate func(op *erc4337.UserOperation)
	}{
		{"sender", func(op *erc4337.UserOperation) { op.Sender = common.HexToAddress("0x01") }},
		{"nonce", func(op *erc4337.UserOperation) { op.Nonce = (*hexutil.Big)(big.NewInt(8)) }},
		{"init code", func(op *erc4337.UserOperation) { op.FactoryData = hexutil.MustDecode("0x1235") }},
		{"call data", func(op *erc4337.UserOperation) { op.CallData = hexutil.MustDecode("0xb61d27f7") }},
		{"call gas limit", func(op *erc4337.UserOperation) { op.CallGasLimit = (*hexutil.Big)(big.NewInt(100001)) }},
		{"verification gas limit", func(op *erc4337.UserOperation) { op.VerificationGasLimit = (*hexutil.Big)(big.NewInt(200001)) }},
		{"pre verification gas", func(op *erc4337.UserOperation) { op.PreVerificationGas = (*hexutil.Big)(big.NewInt(50001)) }},
		{"max fee", func(op *erc4337.UserOperation) { op.MaxFeePerGas = (*hexutil.Big)(big.NewInt(2000000001)) }},
		{"max priority fee", func(op *erc4337.UserOperation) { op.MaxPriorityFeePerGas = (*hexutil.Big)(big.NewInt(1000000001)) }},
	}

	for _, tt := range opChanges {
		t.Run(tt.name, func(t *testing.T) {
			op := testUserOp()
			tt.mutate(op)
			h, err := ComputeHash(op, testSponsor, window, testBinding())
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}

	t.Run("sponsor", func(t *testing.T) {
		h, err := ComputeHash(testUserOp(), common.HexToAddress("0xa2"), window, testBinding())
		require.NoError(t, err)
		assert.NotEqual(t, base, h)
	})

	t.Run("valid until", func(t *testing.T) {
		h, err := ComputeHash(testUserOp(), testSponsor, ValidityWindow{ValidAfter: 100, ValidUntil: 201}, testBinding())
		require.NoError(t, err)
		assert.NotEqual(t, base, h)
	})

	t.Run("valid after", func(t *testing.T) {
		h, err := ComputeHash(testUserOp(), testSponsor, ValidityWindow{ValidAfter: 101, ValidUntil: 200}, testBinding())
		require.NoError(t, err)
		assert.NotEqual(t, base, h)
	})

	t.Run("swapped window", func(t *testing.T) {
		h, err := ComputeHash(testUserOp(), testSponsor, ValidityWindow{ValidAfter: 200, ValidUntil: 100}, testBinding())
		require.NoError(t, err)
		assert.NotEqual(t, base, h)
	})

	t.Run("chain id", func(t *testing.T) {
		h, err := ComputeHash(testUserOp(), testSponsor, window, Binding{ChainID: big.NewInt(1), Paymaster: testPaymaster})
		require.NoError(t, err)
		assert.NotEqual(t, base, h)
	})

	t.Run("paymaster", func(t *testing.T) {
		h, err := ComputeHash(testUserOp(), testSponsor, window, Binding{ChainID: testChainID, Paymaster: common.HexToAddress("0xef")})
		require.NoError(t, err)
		assert.NotEqual(t, base, h)
	})
}

func TestComputeHash_UnboundFields(t *testing.T) {
	window := ValidityWindow{ValidAfter: 100, ValidUntil: 200}
	base, err := ComputeHash(testUserOp(), testSponsor, window, testBinding())
	require.NoError(t, err)

	op := testUserOp()
	op.Signature = hexutil.MustDecode("0xdeadbeef")
	op.Paymaster = &testPaymaster
	op.PaymasterData = hexutil.MustDecode("0x0102030405")

	h, err := ComputeHash(op, testSponsor, window, testBinding())
	require.NoError(t, err)
	assert.Equal(t, base, h)
}

func TestComputeHash_Errors(t *testing.T) {
	_, err := ComputeHash(nil, testSponsor, ValidityWindow{}, testBinding())
	assert.Error(t, err)

	_, err = ComputeHash(testUserOp(), testSponsor, ValidityWindow{}, Binding{Paymaster: testPaymaster})
	assert.Error(t, err)

	_, err = ComputeHash(testUserOp(), testSponsor, ValidityWindow{ValidAfter: MaxUint48 + 1}, testBinding())
	assert.ErrorIs(t, err, ErrWindowOverflow)
}
