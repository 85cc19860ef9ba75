// Package errs holds the expected outcomes of engine operations. They are
// returned as plain sentinel errors and matched with errors.Is.
package errs

import "errors"

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBelowMinimum      = errors.New("amount below minimum withdrawal")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrAlreadyRedeemed   = errors.New("code already redeemed by this account")
	ErrLimitReached      = errors.New("activation limit reached")
	ErrInactive          = errors.New("code is inactive")
	ErrNotEligible       = errors.New("access gate not passed")
	ErrOracleTimeout     = errors.New("subscription check timed out")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrBelowMinimum, "below_minimum"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyProcessed, "already_processed"},
	{ErrAlreadyRedeemed, "already_redeemed"},
	{ErrLimitReached, "limit_reached"},
	{ErrInactive, "inactive"},
	{ErrNotEligible, "not_eligible"},
	{ErrOracleTimeout, "oracle_timeout"},
}

// IsExpected reports whether err is one of the recoverable outcomes above.
// Anything else is a storage or transport failure.
func IsExpected(err error) bool {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return true
		}
	}
	return false
}

// Code returns a stable label for err: "ok" for nil, "internal" for
// anything outside the taxonomy.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
