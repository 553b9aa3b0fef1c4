package paymaster

import "errors"

// RevertError is a hard validation failure. Its reason string is part of the
// observable contract and is matched by callers, so it is never wrapped with
// extra text.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return e.Reason
}

func newRevert(reason string) *RevertError {
	return &RevertError{Reason: reason}
}

var (
	ErrMalformedPayload         = newRevert("invalid signature length in paymasterAndData")
	ErrNonCanonicalPayload      = newRevert("non-canonical paymasterAndData header")
	ErrInsufficientSponsorFunds = newRevert("Sponsor paymaster funds too low")
	ErrInsufficientDeposit      = newRevert("not enough deposited funds")
	ErrUnauthorized             = newRevert("Unauthorized")
	ErrInvalidAmount            = newRevert("amount must be positive")
	ErrInvalidContext           = newRevert("invalid paymaster context")
	ErrContextSettled           = newRevert("paymaster context already settled")
	ErrWithdrawExpired          = newRevert("withdraw authorization expired")
	ErrWithdrawReplayed         = newRevert("withdraw authorization already used")

	// Structural signature failures, worded like the OpenZeppelin ECDSA library.
	ErrInvalidSignature       = newRevert("ECDSA: invalid signature")
	ErrInvalidSignatureLength = newRevert("ECDSA: invalid signature length")
	ErrInvalidSignatureS      = newRevert("ECDSA: invalid signature 's' value")
)

// IsRevert reports whether err is a hard revert rather than an infrastructure
// failure such as a broken store connection.
func IsRevert(err error) bool {
	var revert *RevertError
	return errors.As(err, &revert)
}
