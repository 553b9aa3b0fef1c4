package paymaster

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrWindowOverflow = errors.New("validity window exceeds 48 bits")
	ErrNotYetValid    = errors.New("authorization not valid yet")
	ErrExpired        = errors.New("authorization expired")
)

// ValidityWindow bounds the time during which an authorization is honored.
// A zero ValidUntil means the authorization never expires.
type ValidityWindow struct {
	ValidAfter uint64 `json:"validAfter"`
	ValidUntil uint64 `json:"validUntil"`
}

func (w ValidityWindow) validate() error {
	if w.ValidUntil > MaxUint48 || w.ValidAfter > MaxUint48 {
		return fmt.Errorf("%w: validUntil=%d validAfter=%d", ErrWindowOverflow, w.ValidUntil, w.ValidAfter)
	}
	return nil
}

// Check performs the entry point's time-range check against now (unix seconds).
func (w ValidityWindow) Check(now uint64) error {
	if now < w.ValidAfter {
		return fmt.Errorf("%w: now %d < validAfter %d", ErrNotYetValid, now, w.ValidAfter)
	}
	if w.ValidUntil != 0 && now > w.ValidUntil {
		return fmt.Errorf("%w: now %d > validUntil %d", ErrExpired, now, w.ValidUntil)
	}
	return nil
}

// PackValidationData builds the ERC-4337 validationData word:
// sigFailed in the low 160 bits, validUntil in bits 160..207 and validAfter in
// bits 208..255.
func PackValidationData(sigFailed bool, w ValidityWindow) *big.Int {
	data := new(big.Int)
	if sigFailed {
		data.SetUint64(1)
	}
	data.Or(data, new(big.Int).Lsh(new(big.Int).SetUint64(w.ValidUntil&MaxUint48), 160))
	data.Or(data, new(big.Int).Lsh(new(big.Int).SetUint64(w.ValidAfter&MaxUint48), 208))
	return data
}

// UnpackValidationData reverses PackValidationData. Any non-zero aggregator
// field is reported as a signature failure.
func UnpackValidationData(data *big.Int) (sigFailed bool, w ValidityWindow) {
	mask48 := new(big.Int).SetUint64(MaxUint48)
	aggregator := new(big.Int).And(data, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1)))

	w.ValidUntil = new(big.Int).And(new(big.Int).Rsh(data, 160), mask48).Uint64()
	w.ValidAfter = new(big.Int).And(new(big.Int).Rsh(data, 208), mask48).Uint64()
	return aggregator.Sign() != 0, w
}
