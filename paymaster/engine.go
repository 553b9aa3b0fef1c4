package paymaster

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// PostOpMode mirrors IPaymaster.PostOpMode.
type PostOpMode uint8

const (
	OpSucceeded PostOpMode = iota
	OpReverted
	PostOpReverted
)

func (m PostOpMode) String() string {
	switch m {
	case OpSucceeded:
		return "opSucceeded"
	case OpReverted:
		return "opReverted"
	case PostOpReverted:
		return "postOpReverted"
	default:
		return fmt.Sprintf("PostOpMode(%d)", uint8(m))
	}
}

func ParsePostOpMode(s string) (PostOpMode, error) {
	for _, m := range []PostOpMode{OpSucceeded, OpReverted, PostOpReverted} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown postOp mode %q", s)
}

// Config is fixed for the lifetime of an Engine. Rotating the authority means
// building a new Engine.
type Config struct {
	Authority common.Address
	Paymaster common.Address
	ChainID   *big.Int
	// ContextSigner seals the contexts Validate issues. PostOp settles only
	// contexts carrying its seal.
	ContextSigner *Signer
}

// ValidationOutcome is returned for every operation that did not revert.
type ValidationOutcome struct {
	SigFailed bool
	Window    ValidityWindow
	Sponsor   common.Address
	Hash      common.Hash
	// Context is handed back to PostOp. It is empty when SigFailed is set.
	Context []byte
}

// ValidationData packs the outcome the way the entry point expects it.
func (o *ValidationOutcome) ValidationData() *big.Int {
	return PackValidationData(o.SigFailed, o.Window)
}

// Engine validates sponsored operations and settles their cost.
type Engine struct {
	config   Config
	verifier *Verifier
	sealer   *Signer
	ledger   *Ledger
}

func NewEngine(config Config, ledger *Ledger) (*Engine, error) {
	if config.Authority == (common.Address{}) {
		return nil, errors.New("trusted authority address is required")
	}
	if config.ChainID == nil || config.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id must be positive")
	}
	if config.ContextSigner == nil {
		return nil, errors.New("context signer is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}

	return &Engine{
		config: Config{
			Authority: config.Authority,
			Paymaster: config.Paymaster,
			ChainID:   new(big.Int).Set(config.ChainID),
		},
		verifier: NewVerifier(config.Authority),
		sealer:   config.ContextSigner,
		ledger:   ledger,
	}, nil
}

// logger wraps the execution context with component info
func (e *Engine) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "paymaster-engine").Logger()
	return &l
}

func (e *Engine) Authority() common.Address {
	return e.config.Authority
}

func (e *Engine) Binding() Binding {
	return Binding{ChainID: new(big.Int).Set(e.config.ChainID), Paymaster: e.config.Paymaster}
}

func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// ComputeHash is what the off-chain authority signs for this deployment.
func (e *Engine) ComputeHash(op *erc4337.UserOperation, sponsor common.Address, window ValidityWindow) (common.Hash, error) {
	return ComputeHash(op, sponsor, window, e.Binding())
}

// Validate runs the paymaster checks for op. maxCost is the most the
// operation can cost the sponsor.
//
// A returned error is a hard revert (or a storage failure, see IsRevert). A
// signature from the wrong signer is not an error: the outcome carries
// SigFailed=true and the sponsor's funds are not examined.
func (e *Engine) Validate(ctx context.Context, op *erc4337.UserOperation, maxCost *big.Int) (*ValidationOutcome, error) {
	if op == nil {
		return nil, errors.New("user operation is nil")
	}

	payload, err := DecodePayload(op.PaymasterData)
	if err != nil {
		return nil, err
	}

	hash, err := e.ComputeHash(op, payload.Sponsor, payload.Window)
	if err != nil {
		return nil, err
	}

	sigFailed, err := e.verifier.Verify(hash, payload.Signature)
	if err != nil {
		return nil, err
	}

	outcome := &ValidationOutcome{
		SigFailed: sigFailed,
		Window:    payload.Window,
		Sponsor:   payload.Sponsor,
		Hash:      hash,
	}

	if sigFailed {
		e.logger(ctx).Debug().
			Str("sender", op.Sender.Hex()).
			Str("sponsor", payload.Sponsor.Hex()).
			Msg("paymaster signature mismatch")
		return outcome, nil
	}

	if maxCost == nil {
		maxCost = new(big.Int)
	}

	solvent, err := e.ledger.CheckSolvency(ctx, payload.Sponsor, maxCost)
	if err != nil {
		return nil, err
	}
	if !solvent {
		return nil, ErrInsufficientSponsorFunds
	}

	outcome.Context, err = e.sealContext(&PostOpContext{
		Sponsor: payload.Sponsor,
		MaxCost: new(big.Int).Set(maxCost),
		OpHash:  hash,
	})
	if err != nil {
		return nil, err
	}

	e.logger(ctx).Debug().
		Str("sender", op.Sender.Hex()).
		Str("sponsor", payload.Sponsor.Hex()).
		Str("max_cost", maxCost.String()).
		Uint64("valid_until", payload.Window.ValidUntil).
		Uint64("valid_after", payload.Window.ValidAfter).
		Msg("paymaster validation accepted")

	return outcome, nil
}

// PostOp charges the sponsor recorded in context. Gas is owed whatever the
// mode, so every mode settles. The charge never exceeds the maxCost the
// operation was validated against, and a context settles only once.
func (e *Engine) PostOp(ctx context.Context, mode PostOpMode, pmContext []byte, actualCost *big.Int) (*big.Int, error) {
	pc, err := e.openContext(pmContext)
	if err != nil {
		return nil, err
	}
	if actualCost == nil || actualCost.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	cost := actualCost
	if cost.Cmp(pc.MaxCost) > 0 {
		e.logger(ctx).Warn().
			Str("sponsor", pc.Sponsor.Hex()).
			Str("actual_cost", actualCost.String()).
			Str("max_cost", pc.MaxCost.String()).
			Msg("actual cost above validated maximum, capping")
		cost = pc.MaxCost
	}

	charged, err := e.ledger.SettleOperation(ctx, pc.OpHash, pc.Sponsor, cost)
	if err != nil {
		return nil, err
	}

	e.logger(ctx).Debug().
		Str("sponsor", pc.Sponsor.Hex()).
		Str("op_hash", pc.OpHash.Hex()).
		Str("mode", mode.String()).
		Str("charged", charged.String()).
		Msg("paymaster postOp settled")

	return charged, nil
}

// Withdraw releases funds on the strength of the owner's signature over auth.
// The recovered signer, not anything the caller claims, must own the sponsor.
func (e *Engine) Withdraw(ctx context.Context, auth *WithdrawAuthorization, sig []byte, now uint64) (*Withdrawal, error) {
	if auth == nil {
		return nil, errors.New("withdraw authorization is nil")
	}
	if auth.Deadline < now {
		return nil, ErrWithdrawExpired
	}

	digest, err := WithdrawDigest(auth, e.Binding())
	if err != nil {
		return nil, err
	}
	caller, err := RecoverSigner(digest, sig)
	if err != nil {
		return nil, err
	}

	withdrawal, err := e.ledger.WithdrawAuthorized(ctx, digest, auth.Sponsor, caller, auth.Amount, auth.Recipient)
	if err != nil {
		e.logger(ctx).Debug().Err(err).
			Str("sponsor", auth.Sponsor.Hex()).
			Str("caller", caller.Hex()).
			Msg("paymaster withdraw refused")
		return nil, err
	}
	return withdrawal, nil
}

func (e *Engine) sealContext(pc *PostOpContext) ([]byte, error) {
	digest, err := ContextDigest(pc, e.Binding())
	if err != nil {
		return nil, err
	}
	seal, err := e.sealer.SignHash(digest)
	if err != nil {
		return nil, err
	}
	return EncodeContext(pc, seal)
}

// openContext decodes pmContext and rejects it unless this engine sealed it.
func (e *Engine) openContext(pmContext []byte) (*PostOpContext, error) {
	pc, seal, err := DecodeContext(pmContext)
	if err != nil {
		return nil, err
	}
	digest, err := ContextDigest(pc, e.Binding())
	if err != nil {
		return nil, err
	}
	signer, err := RecoverSigner(digest, seal)
	if err != nil || signer != e.sealer.Address() {
		return nil, ErrInvalidContext
	}
	return pc, nil
}

// RequiredPrefund is the v0.7 maximum cost of op.
func RequiredPrefund(op *erc4337.UserOperation) *big.Int {
	gas := new(big.Int)
	gas.Add(gas, bigOrZero(op.VerificationGasLimit))
	gas.Add(gas, bigOrZero(op.CallGasLimit))
	gas.Add(gas, bigOrZero(op.PaymasterVerificationGasLimit))
	gas.Add(gas, bigOrZero(op.PaymasterPostOpGasLimit))
	gas.Add(gas, bigOrZero(op.PreVerificationGas))
	return gas.Mul(gas, bigOrZero(op.MaxFeePerGas))
}
