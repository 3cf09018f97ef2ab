package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account keyed by its verified phone number
type User struct {
	ID                   uuid.UUID
	PhoneNumber          string
	PasswordHash         string
	FirstName            string
	LastName             string
	Email                *string
	AcceptEmailMarketing bool
	Role                 string
	IsPhoneVerified      bool
	CreatedAt            time.Time
}

// Roles known to the session subsystem
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// VerificationChallenge represents one in-flight phone-verification attempt.
// At most one unconsumed challenge exists per phone number.
type VerificationChallenge struct {
	ID          uuid.UUID
	ChallengeID string
	PhoneNumber string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// RefreshToken represents a server-tracked opaque refresh credential.
// Only the SHA-256 hash of the token value is stored.
type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}
