package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethaccount/paymaster/paymaster"
	"github.com/ethaccount/paymaster/src/domain"
	"github.com/ethaccount/paymaster/src/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	TestPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	testPaymaster = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testSponsor   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testNow       = time.Unix(1700000000, 0)
)

type memorySponsorships struct {
	mu    sync.Mutex
	items map[common.Hash]*domain.Sponsorship
	ttls  map[common.Hash]time.Duration
}

func newMemorySponsorships() *memorySponsorships {
	return &memorySponsorships{
		items: make(map[common.Hash]*domain.Sponsorship),
		ttls:  make(map[common.Hash]time.Duration),
	}
}

func (m *memorySponsorships) PutSponsorship(ctx context.Context, s *domain.Sponsorship, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.UserOpHash] = s
	m.ttls[s.UserOpHash] = ttl
	return nil
}

func (m *memorySponsorships) GetSponsorship(ctx context.Context, userOpHash common.Hash) (*domain.Sponsorship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[userOpHash]
	if !ok {
		return nil, repository.ErrSponsorshipNotFound
	}
	return s, nil
}

func getTestPaymasterService(t *testing.T) (*PaymasterService, *memorySponsorships) {
	t.Helper()

	signer, err := paymaster.NewSignerFromHex(TestPrivateKey)
	require.NoError(t, err)

	engine, err := paymaster.NewEngine(paymaster.Config{
		Authority:     signer.Address(),
		Paymaster:     testPaymaster,
		ChainID:       big.NewInt(11155111),
		ContextSigner: signer,
	}, paymaster.NewLedger(paymaster.NewMemoryStore()))
	require.NoError(t, err)

	sponsorships := newMemorySponsorships()
	s, err := NewPaymasterService(engine, signer, sponsorships, PaymasterConfig{
		EntryPoint:      erc4337.EntryPointV07,
		DefaultValidity: 10 * time.Minute,
		SponsorshipTTL:  time.Hour,
	})
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }

	return s, sponsorships
}

func testUserOp() *erc4337.UserOperation {
	return &erc4337.UserOperation{
		Sender:                        common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                         (*hexutil.Big)(big.NewInt(1)),
		CallData:                      hexutil.MustDecode("0xabcdef"),
		CallGasLimit:                  (*hexutil.Big)(big.NewInt(100000)),
		VerificationGasLimit:          (*hexutil.Big)(big.NewInt(50000)),
		PreVerificationGas:            (*hexutil.Big)(big.NewInt(21000)),
		MaxPriorityFeePerGas:          (*hexutil.Big)(big.NewInt(1000000000)),
		MaxFeePerGas:                  (*hexutil.Big)(big.NewInt(2000000000)),
		Paymaster:                     &testPaymaster,
		PaymasterVerificationGasLimit: (*hexutil.Big)(big.NewInt(30000)),
		PaymasterPostOpGasLimit:       (*hexutil.Big)(big.NewInt(20000)),
	}
}

func requireDomainError(t *testing.T, err error, name string) domain.DomainError {
	t.Helper()
	var domainErr domain.DomainError
	require.True(t, errors.As(err, &domainErr), "expected domain error, got %v", err)
	assert.Equal(t, name, domainErr.Name())
	return domainErr
}

func TestNewPaymasterService(t *testing.T) {
	signer, err := paymaster.NewSignerFromHex(TestPrivateKey)
	require.NoError(t, err)

	engine, err := paymaster.NewEngine(paymaster.Config{
		Authority:     common.HexToAddress("0xaa"),
		ChainID:       big.NewInt(1),
		ContextSigner: signer,
	}, paymaster.NewLedger(paymaster.NewMemoryStore()))
	require.NoError(t, err)

	_, err = NewPaymasterService(engine, signer, newMemorySponsorships(), PaymasterConfig{DefaultValidity: time.Minute})
	assert.Error(t, err, "signer must be the engine authority")
}

func TestPaymasterService_SponsorUserOperation(t *testing.T) {
	ctx := context.Background()
	s, sponsorships := getTestPaymasterService(t)
	op := testUserOp()

	_, err := s.Deposit(ctx, testSponsor, paymaster.RequiredPrefund(op))
	require.NoError(t, err)

	sponsorship, err := s.SponsorUserOperation(ctx, op, testSponsor, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(testNow.Unix()), sponsorship.ValidAfter)
	assert.Equal(t, uint64(testNow.Add(10*time.Minute).Unix()), sponsorship.ValidUntil)
	assert.Equal(t, testPaymaster, sponsorship.Paymaster)
	assert.Equal(t, 10*time.Minute, sponsorships.ttls[sponsorship.UserOpHash])

	payload, err := paymaster.DecodePayload(sponsorship.PaymasterData)
	require.NoError(t, err)
	assert.Equal(t, testSponsor, payload.Sponsor)

	// the signed operation passes validation as-is
	signed := op.WithPaymasterData(testPaymaster, sponsorship.PaymasterData)
	outcome, err := s.Validate(ctx, signed, nil)
	require.NoError(t, err)
	assert.False(t, outcome.SigFailed)
	assert.Equal(t, sponsorship.Hash, outcome.Hash)

	userOpHash, err := signed.UserOpHash(erc4337.EntryPointV07, big.NewInt(11155111))
	require.NoError(t, err)
	assert.Equal(t, userOpHash, sponsorship.UserOpHash)

	cached, err := s.GetSponsorship(ctx, userOpHash)
	require.NoError(t, err)
	assert.Equal(t, sponsorship, cached)
}

func TestPaymasterService_SponsorUserOperation_Rejected(t *testing.T) {
	ctx := context.Background()
	s, _ := getTestPaymasterService(t)
	op := testUserOp()

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := s.SponsorUserOperation(ctx, op, testSponsor, nil)
		domainErr := requireDomainError(t, err, "PAYMASTER_REVERTED")
		assert.Equal(t, "Sponsor paymaster funds too low", domainErr.ClientMsg())
	})

	_, err := s.Deposit(ctx, testSponsor, big.NewInt(1e18))
	require.NoError(t, err)

	windows := []struct {
		name   string
		window paymaster.ValidityWindow
	}{
		{"expired", paymaster.ValidityWindow{ValidAfter: 0, ValidUntil: uint64(testNow.Unix()) - 1}},
		{"inverted", paymaster.ValidityWindow{ValidAfter: uint64(testNow.Unix()) + 200, ValidUntil: uint64(testNow.Unix()) + 100}},
		{"overflow", paymaster.ValidityWindow{ValidUntil: paymaster.MaxUint48 + 1}},
	}

	for _, tt := range windows {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.window
			_, err := s.SponsorUserOperation(ctx, op, testSponsor, &w)
			requireDomainError(t, err, "PARAMETER_INVALID")
		})
	}

	t.Run("no expiry uses cache ttl", func(t *testing.T) {
		s, sponsorships := getTestPaymasterService(t)
		_, err := s.Deposit(ctx, testSponsor, big.NewInt(1e18))
		require.NoError(t, err)

		sponsorship, err := s.SponsorUserOperation(ctx, op, testSponsor, &paymaster.ValidityWindow{ValidAfter: 5})
		require.NoError(t, err)
		assert.Equal(t, time.Hour, sponsorships.ttls[sponsorship.UserOpHash])
	})
}

func TestPaymasterService_Validate(t *testing.T) {
	ctx := context.Background()
	s, _ := getTestPaymasterService(t)
	op := testUserOp()

	_, err := s.Deposit(ctx, testSponsor, paymaster.RequiredPrefund(op))
	require.NoError(t, err)
	sponsorship, err := s.SponsorUserOperation(ctx, op, testSponsor, nil)
	require.NoError(t, err)
	signed := op.WithPaymasterData(testPaymaster, sponsorship.PaymasterData)

	t.Run("explicit max cost above balance", func(t *testing.T) {
		maxCost := new(big.Int).Add(paymaster.RequiredPrefund(op), big.NewInt(1))
		_, err := s.Validate(ctx, signed, maxCost)
		domainErr := requireDomainError(t, err, "PAYMASTER_REVERTED")
		assert.Equal(t, "Sponsor paymaster funds too low", domainErr.ClientMsg())
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := s.Validate(ctx, op.WithPaymasterData(testPaymaster, sponsorship.PaymasterData[:100]), nil)
		domainErr := requireDomainError(t, err, "PAYMASTER_REVERTED")
		assert.Equal(t, "invalid signature length in paymasterAndData", domainErr.ClientMsg())
	})

	t.Run("other paymaster", func(t *testing.T) {
		_, err := s.Validate(ctx, op.WithPaymasterData(common.HexToAddress("0xef"), sponsorship.PaymasterData), nil)
		requireDomainError(t, err, "PARAMETER_INVALID")
	})
}

func TestPaymasterService_PostOp(t *testing.T) {
	ctx := context.Background()
	s, _ := getTestPaymasterService(t)
	op := testUserOp()

	prefund := paymaster.RequiredPrefund(op)
	_, err := s.Deposit(ctx, testSponsor, prefund)
	require.NoError(t, err)
	sponsorship, err := s.SponsorUserOperation(ctx, op, testSponsor, nil)
	require.NoError(t, err)

	outcome, err := s.Validate(ctx, op.WithPaymasterData(testPaymaster, sponsorship.PaymasterData), nil)
	require.NoError(t, err)

	charged, err := s.PostOp(ctx, paymaster.OpReverted, outcome.Context, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "1000", charged.String())

	account, err := s.GetSponsor(ctx, testSponsor)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Sub(prefund, big.NewInt(1000)).String(), account.Balance.String())

	_, err = s.PostOp(ctx, paymaster.OpSucceeded, []byte{0x01}, big.NewInt(1))
	requireDomainError(t, err, "PAYMASTER_REVERTED")

	entries, err := s.GetSponsorHistory(ctx, testSponsor, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, paymaster.EntrySettle, entries[0].Kind)
}

func TestPaymasterService_Withdraw(t *testing.T) {
	ctx := context.Background()
	s, _ := getTestPaymasterService(t)
	recipient := common.HexToAddress("0xc3")

	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := paymaster.NewSigner(ownerKey)

	_, err = s.Deposit(ctx, owner.Address(), big.NewInt(100))
	require.NoError(t, err)

	authorize := func(amount int64, nonce int64) *paymaster.WithdrawAuthorization {
		return &paymaster.WithdrawAuthorization{
			Sponsor:   owner.Address(),
			Recipient: recipient,
			Amount:    big.NewInt(amount),
			Nonce:     big.NewInt(nonce),
			Deadline:  uint64(testNow.Add(time.Minute).Unix()),
		}
	}
	sign := func(signer *paymaster.Signer, auth *paymaster.WithdrawAuthorization) []byte {
		sig, err := signer.SignWithdraw(auth, s.engine.Binding())
		require.NoError(t, err)
		return sig
	}

	// the service key is not the owner
	auth := authorize(10, 1)
	_, err = s.Withdraw(ctx, auth, sign(s.signer, auth))
	domainErr := requireDomainError(t, err, "AUTH_PERMISSION_DENIED")
	assert.Equal(t, "Unauthorized", domainErr.ClientMsg())

	_, err = s.Withdraw(ctx, auth, make([]byte, paymaster.SignatureLength))
	domainErr = requireDomainError(t, err, "AUTH_PERMISSION_DENIED")
	assert.Equal(t, "Invalid withdraw signature", domainErr.ClientMsg())

	auth = authorize(101, 2)
	_, err = s.Withdraw(ctx, auth, sign(owner, auth))
	domainErr = requireDomainError(t, err, "PAYMASTER_REVERTED")
	assert.Equal(t, "not enough deposited funds", domainErr.ClientMsg())

	expired := authorize(10, 3)
	expired.Deadline = uint64(testNow.Unix()) - 1
	_, err = s.Withdraw(ctx, expired, sign(owner, expired))
	domainErr = requireDomainError(t, err, "PAYMASTER_REVERTED")
	assert.Equal(t, "withdraw authorization expired", domainErr.ClientMsg())

	auth = authorize(60, 4)
	sig := sign(owner, auth)
	w, err := s.Withdraw(ctx, auth, sig)
	require.NoError(t, err)
	assert.Equal(t, "40", w.BalanceAfter.String())

	_, err = s.Withdraw(ctx, auth, sig)
	domainErr = requireDomainError(t, err, "PAYMASTER_REVERTED")
	assert.Equal(t, "withdraw authorization already used", domainErr.ClientMsg())

	_, err = s.Deposit(ctx, owner.Address(), big.NewInt(0))
	requireDomainError(t, err, "PAYMASTER_REVERTED")
}

func TestPaymasterService_PostOp_Replayed(t *testing.T) {
	ctx := context.Background()
	s, _ := getTestPaymasterService(t)
	op := testUserOp()

	_, err := s.Deposit(ctx, testSponsor, paymaster.RequiredPrefund(op))
	require.NoError(t, err)
	sponsorship, err := s.SponsorUserOperation(ctx, op, testSponsor, nil)
	require.NoError(t, err)
	outcome, err := s.Validate(ctx, op.WithPaymasterData(testPaymaster, sponsorship.PaymasterData), nil)
	require.NoError(t, err)

	_, err = s.PostOp(ctx, paymaster.OpSucceeded, outcome.Context, big.NewInt(1000))
	require.NoError(t, err)

	_, err = s.PostOp(ctx, paymaster.OpSucceeded, outcome.Context, big.NewInt(1000))
	domainErr := requireDomainError(t, err, "PAYMASTER_REVERTED")
	assert.Equal(t, "paymaster context already settled", domainErr.ClientMsg())
}

func TestPaymasterService_GetSponsorship_NotFound(t *testing.T) {
	s, _ := getTestPaymasterService(t)
	_, err := s.GetSponsorship(context.Background(), common.HexToHash("0x01"))
	requireDomainError(t, err, "RESOURCE_NOT_FOUND")
}

func TestPaymasterService_Info(t *testing.T) {
	s, _ := getTestPaymasterService(t)
	info := s.Info()

	assert.Equal(t, testPaymaster, info.Paymaster)
	assert.Equal(t, s.signer.Address(), info.Authority)
	assert.Equal(t, erc4337.EntryPointV07, info.EntryPoint)
	assert.Equal(t, "11155111", info.ChainID.String())
}
