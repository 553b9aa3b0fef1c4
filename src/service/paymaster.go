package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethaccount/paymaster/paymaster"
	"github.com/ethaccount/paymaster/src/domain"
	"github.com/ethaccount/paymaster/src/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// SponsorshipStore indexes issued sponsorships by userOpHash.
type SponsorshipStore interface {
	PutSponsorship(ctx context.Context, s *domain.Sponsorship, ttl time.Duration) error
	GetSponsorship(ctx context.Context, userOpHash common.Hash) (*domain.Sponsorship, error)
}

type PaymasterConfig struct {
	EntryPoint common.Address
	// DefaultValidity is the window length used when a request names none.
	DefaultValidity time.Duration
	// SponsorshipTTL bounds how long a sponsorship without expiry stays cached.
	SponsorshipTTL time.Duration
}

// PaymasterInfo describes the deployment this service signs for.
type PaymasterInfo struct {
	Paymaster  common.Address `json:"paymaster"`
	Authority  common.Address `json:"authority"`
	EntryPoint common.Address `json:"entryPoint"`
	ChainID    *big.Int       `json:"chainId"`
}

type PaymasterService struct {
	engine       *paymaster.Engine
	signer       *paymaster.Signer
	sponsorships SponsorshipStore
	config       PaymasterConfig
	now          func() time.Time
}

func NewPaymasterService(engine *paymaster.Engine, signer *paymaster.Signer, sponsorships SponsorshipStore, config PaymasterConfig) (*PaymasterService, error) {
	if signer.Address() != engine.Authority() {
		return nil, fmt.Errorf("signer %s is not the trusted authority %s", signer.Address().Hex(), engine.Authority().Hex())
	}
	if config.DefaultValidity <= 0 {
		return nil, errors.New("default validity must be positive")
	}

	return &PaymasterService{
		engine:       engine,
		signer:       signer,
		sponsorships: sponsorships,
		config:       config,
		now:          time.Now,
	}, nil
}

// logger wraps the execution context with component info
func (s *PaymasterService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "paymaster-service").Logger()
	return &l
}

func (s *PaymasterService) Info() PaymasterInfo {
	binding := s.engine.Binding()
	return PaymasterInfo{
		Paymaster:  binding.Paymaster,
		Authority:  s.engine.Authority(),
		EntryPoint: s.config.EntryPoint,
		ChainID:    binding.ChainID,
	}
}

// SponsorUserOperation signs an authorization for sponsor to pay for op. A nil
// window means [now, now+DefaultValidity]. The sponsor must already cover the
// operation's required prefund.
func (s *PaymasterService) SponsorUserOperation(ctx context.Context, op *erc4337.UserOperation, sponsor common.Address, window *paymaster.ValidityWindow) (*domain.Sponsorship, error) {
	now := s.now()

	w, err := s.resolveWindow(now, window)
	if err != nil {
		return nil, err
	}

	maxCost := paymaster.RequiredPrefund(op)
	solvent, err := s.engine.Ledger().CheckSolvency(ctx, sponsor, maxCost)
	if err != nil {
		return nil, toDomainError(err, "Failed to check sponsor balance")
	}
	if !solvent {
		s.logger(ctx).Info().
			Str("sponsor", sponsor.Hex()).
			Str("max_cost", maxCost.String()).
			Msg("refusing to sponsor: insufficient sponsor funds")
		return nil, toDomainError(paymaster.ErrInsufficientSponsorFunds, "")
	}

	hash, err := s.engine.ComputeHash(op, sponsor, w)
	if err != nil {
		return nil, toDomainError(err, "Failed to compute paymaster hash")
	}

	signature, err := s.signer.SignHash(hash)
	if err != nil {
		return nil, toDomainError(err, "Failed to sign paymaster hash")
	}

	header, err := paymaster.EncodeHeader(sponsor, w)
	if err != nil {
		return nil, toDomainError(err, "Failed to encode paymaster data")
	}
	paymasterData := append(header, signature...)

	binding := s.engine.Binding()
	userOpHash, err := op.WithPaymasterData(binding.Paymaster, paymasterData).UserOpHash(s.config.EntryPoint, binding.ChainID)
	if err != nil {
		return nil, toDomainError(err, "Failed to compute user operation hash")
	}

	sponsorship := &domain.Sponsorship{
		UserOpHash:    userOpHash,
		Hash:          hash,
		Sender:        op.Sender,
		Sponsor:       sponsor,
		Paymaster:     binding.Paymaster,
		ValidAfter:    w.ValidAfter,
		ValidUntil:    w.ValidUntil,
		PaymasterData: paymasterData,
		IssuedAt:      now.UTC(),
	}

	ttl := s.config.SponsorshipTTL
	if w.ValidUntil != 0 {
		ttl = time.Unix(int64(w.ValidUntil), 0).Sub(now)
	}
	if err := s.sponsorships.PutSponsorship(ctx, sponsorship, ttl); err != nil {
		// the signature is valid either way
		s.logger(ctx).Warn().Err(err).Str("user_op_hash", userOpHash.Hex()).Msg("failed to cache sponsorship")
	}

	s.logger(ctx).Info().
		Str("sender", op.Sender.Hex()).
		Str("sponsor", sponsor.Hex()).
		Str("user_op_hash", userOpHash.Hex()).
		Uint64("valid_after", w.ValidAfter).
		Uint64("valid_until", w.ValidUntil).
		Msg("user operation sponsored")

	return sponsorship, nil
}

func (s *PaymasterService) resolveWindow(now time.Time, window *paymaster.ValidityWindow) (paymaster.ValidityWindow, error) {
	if window == nil {
		start := uint64(now.Unix())
		return paymaster.ValidityWindow{
			ValidAfter: start,
			ValidUntil: start + uint64(s.config.DefaultValidity/time.Second),
		}, nil
	}

	w := *window
	if w.ValidUntil > paymaster.MaxUint48 || w.ValidAfter > paymaster.MaxUint48 {
		return w, domain.NewError(domain.ErrorCodeParameterInvalid, paymaster.ErrWindowOverflow, domain.WithMsg("validAfter and validUntil must fit in 48 bits"))
	}
	if w.ValidUntil != 0 && w.ValidUntil < w.ValidAfter {
		return w, domain.NewError(domain.ErrorCodeParameterInvalid, errors.New("validUntil before validAfter"), domain.WithMsg("validUntil must not be before validAfter"))
	}
	if w.ValidUntil != 0 && w.ValidUntil <= uint64(now.Unix()) {
		return w, domain.NewError(domain.ErrorCodeParameterInvalid, paymaster.ErrExpired, domain.WithMsg("validity window has already expired"))
	}
	return w, nil
}

func (s *PaymasterService) GetSponsorship(ctx context.Context, userOpHash common.Hash) (*domain.Sponsorship, error) {
	sponsorship, err := s.sponsorships.GetSponsorship(ctx, userOpHash)
	if errors.Is(err, repository.ErrSponsorshipNotFound) {
		return nil, domain.NewError(domain.ErrorCodeResourceNotFound, err, domain.WithMsg("Sponsorship not found"))
	}
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err, domain.WithMsg("Failed to get sponsorship"))
	}
	return sponsorship, nil
}

func (s *PaymasterService) ComputeHash(ctx context.Context, op *erc4337.UserOperation, sponsor common.Address, window paymaster.ValidityWindow) (common.Hash, error) {
	hash, err := s.engine.ComputeHash(op, sponsor, window)
	if err != nil {
		return common.Hash{}, toDomainError(err, "Failed to compute paymaster hash")
	}
	return hash, nil
}

// Validate runs the paymaster checks. A nil maxCost is replaced by the
// operation's required prefund.
func (s *PaymasterService) Validate(ctx context.Context, op *erc4337.UserOperation, maxCost *big.Int) (*paymaster.ValidationOutcome, error) {
	binding := s.engine.Binding()
	if op.Paymaster != nil && *op.Paymaster != binding.Paymaster {
		return nil, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("paymaster %s is not %s", op.Paymaster.Hex(), binding.Paymaster.Hex()),
			domain.WithMsg("User operation targets a different paymaster"),
		)
	}

	if maxCost == nil {
		maxCost = paymaster.RequiredPrefund(op)
	}

	outcome, err := s.engine.Validate(ctx, op, maxCost)
	if err != nil {
		s.logger(ctx).Info().Err(err).Str("sender", op.Sender.Hex()).Msg("validation reverted")
		return nil, toDomainError(err, "Failed to validate user operation")
	}
	return outcome, nil
}

func (s *PaymasterService) PostOp(ctx context.Context, mode paymaster.PostOpMode, pmContext []byte, actualCost *big.Int) (*big.Int, error) {
	charged, err := s.engine.PostOp(ctx, mode, pmContext, actualCost)
	if err != nil {
		return nil, toDomainError(err, "Failed to settle user operation")
	}
	return charged, nil
}

func (s *PaymasterService) Deposit(ctx context.Context, sponsor common.Address, amount *big.Int) (*paymaster.SponsorAccount, error) {
	account, err := s.engine.Ledger().Deposit(ctx, sponsor, amount)
	if err != nil {
		return nil, toDomainError(err, "Failed to deposit")
	}

	s.logger(ctx).Info().
		Str("sponsor", sponsor.Hex()).
		Str("amount", amount.String()).
		Str("balance", account.Balance.String()).
		Msg("sponsor deposit")

	return account, nil
}

// Withdraw releases funds authorized by the owner's signature over auth. The
// owner is whoever signed, so a caller cannot claim to be the owner.
func (s *PaymasterService) Withdraw(ctx context.Context, auth *paymaster.WithdrawAuthorization, signature []byte) (*paymaster.Withdrawal, error) {
	withdrawal, err := s.engine.Withdraw(ctx, auth, signature, uint64(s.now().Unix()))
	if err != nil {
		if isSignatureError(err) {
			return nil, domain.NewError(domain.ErrorCodeAuthPermissionDenied, err, domain.WithMsg("Invalid withdraw signature"))
		}
		return nil, toDomainError(err, "Failed to withdraw")
	}

	s.logger(ctx).Info().
		Str("sponsor", auth.Sponsor.Hex()).
		Str("recipient", auth.Recipient.Hex()).
		Str("amount", auth.Amount.String()).
		Msg("sponsor withdrawal")

	return withdrawal, nil
}

func (s *PaymasterService) GetSponsor(ctx context.Context, sponsor common.Address) (*paymaster.SponsorAccount, error) {
	account, err := s.engine.Ledger().Account(ctx, sponsor)
	if err != nil {
		return nil, toDomainError(err, "Failed to get sponsor")
	}
	return account, nil
}

func (s *PaymasterService) GetSponsorHistory(ctx context.Context, sponsor common.Address, limit int) ([]*paymaster.LedgerEntry, error) {
	entries, err := s.engine.Ledger().History(ctx, sponsor, limit)
	if err != nil {
		return nil, toDomainError(err, "Failed to get sponsor history")
	}
	return entries, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, paymaster.ErrInvalidSignature) ||
		errors.Is(err, paymaster.ErrInvalidSignatureLength) ||
		errors.Is(err, paymaster.ErrInvalidSignatureS)
}

// toDomainError keeps revert reasons verbatim for API clients.
func toDomainError(err error, msg string) error {
	var revert *paymaster.RevertError
	switch {
	case errors.As(err, &revert) && errors.Is(err, paymaster.ErrUnauthorized):
		return domain.NewError(domain.ErrorCodeAuthPermissionDenied, err, domain.WithMsg(revert.Reason))
	case errors.As(err, &revert):
		return domain.NewError(domain.ErrorCodePaymasterReverted, err, domain.WithMsg(revert.Reason))
	case errors.Is(err, paymaster.ErrWindowOverflow):
		return domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("validAfter and validUntil must fit in 48 bits"))
	default:
		return domain.NewError(domain.ErrorCodeInternalProcess, err, domain.WithMsg(msg))
	}
}
