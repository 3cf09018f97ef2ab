package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/wandertour/identity/internal/phone"
)

// Session flow error taxonomy. Handlers map these to HTTP statuses; nothing
// in this package is fatal to the process.
var (
	// Bridge-boundary errors keep their identity across layers
	ErrProviderUnavailable = phone.ErrProviderUnavailable
	ErrAssertionInvalid    = phone.ErrAssertionInvalid
	ErrAssertionExpired    = phone.ErrAssertionExpired

	ErrChallengeInvalid       = errors.New("challenge already consumed or expired")
	ErrPhoneAlreadyRegistered = errors.New("phone number already registered")
	// ErrInvalidCredentials covers both unknown phone and wrong password,
	// so responses cannot be used for account enumeration.
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRefreshTokenInvalid = errors.New("invalid or expired refresh token")
	ErrNotFound            = errors.New("not found")

	// Input validation, mapped to 400 by the handlers
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// CooldownError reports that a send was rejected by the per-phone cooldown
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, retry in %ds", e.SecondsRemaining())
}

// SecondsRemaining rounds the remaining window up to whole seconds, never 0
// while the cooldown is active.
func (e *CooldownError) SecondsRemaining() int {
	s := int((e.Remaining + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
