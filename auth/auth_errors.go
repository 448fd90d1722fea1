package auth

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountLocked        = errors.New("account locked")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrAccountExpired       = errors.New("account expired")
	ErrCredentialsExpired   = errors.New("credentials expired")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrServiceUnavailable   = errors.New("service unavailable")
)
