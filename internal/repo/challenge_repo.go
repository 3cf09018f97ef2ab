package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wandertour/identity/internal/model"
)

// ErrNoActiveChallenge is returned when no consumable challenge exists for a
// phone number (never issued, already consumed, or expired).
var ErrNoActiveChallenge = errors.New("no active challenge")

// ChallengeRepo defines the interface for verification-challenge storage
type ChallengeRepo interface {
	CreateOrReplace(ctx context.Context, challengeID, phone string, expiresAt time.Time) (model.VerificationChallenge, error)
	ConsumeActive(ctx context.Context, phone string) (model.VerificationChallenge, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type challengeRepo struct {
	db *sql.DB
}

// NewChallengeRepo creates a new ChallengeRepo instance
func NewChallengeRepo(db *sql.DB) ChallengeRepo {
	return &challengeRepo{db: db}
}

// CreateOrReplace ensures only one active challenge per phone: atomically
// consumes any existing unconsumed challenge and inserts a new one. Uses an
// advisory lock to serialize concurrent requests for the same phone, since
// the partial unique index would otherwise reject the INSERT.
func (r *challengeRepo) CreateOrReplace(ctx context.Context, challengeID, phone string, expiresAt time.Time) (model.VerificationChallenge, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.VerificationChallenge{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, phone)
	if err != nil {
		return model.VerificationChallenge{}, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE verification_challenges
		SET consumed_at = now()
		WHERE phone_number = $1 AND consumed_at IS NULL
	`, phone)
	if err != nil {
		return model.VerificationChallenge{}, fmt.Errorf("consume existing challenges: %w", err)
	}

	var c model.VerificationChallenge
	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO verification_challenges (challenge_id, phone_number, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, issued_at
	`, challengeID, phone, expiresAt).Scan(&idStr, &c.IssuedAt)
	if err != nil {
		return model.VerificationChallenge{}, fmt.Errorf("insert challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.VerificationChallenge{}, fmt.Errorf("commit: %w", err)
	}

	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.VerificationChallenge{}, fmt.Errorf("parse challenge row ID: %w", err)
	}
	c.ChallengeID = challengeID
	c.PhoneNumber = phone
	c.ExpiresAt = expiresAt
	return c, nil
}

// ConsumeActive marks the active challenge for the phone as consumed. The
// conditional UPDATE makes consumption at-most-once: a replay finds no
// unconsumed row and gets ErrNoActiveChallenge.
func (r *challengeRepo) ConsumeActive(ctx context.Context, phone string) (model.VerificationChallenge, error) {
	var c model.VerificationChallenge
	var idStr string
	var consumedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		UPDATE verification_challenges
		SET consumed_at = now()
		WHERE phone_number = $1 AND consumed_at IS NULL AND expires_at > now()
		RETURNING id, challenge_id, issued_at, expires_at, consumed_at
	`, phone).Scan(&idStr, &c.ChallengeID, &c.IssuedAt, &c.ExpiresAt, &consumedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.VerificationChallenge{}, ErrNoActiveChallenge
		}
		return model.VerificationChallenge{}, fmt.Errorf("consume challenge: %w", err)
	}

	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.VerificationChallenge{}, fmt.Errorf("parse challenge row ID: %w", err)
	}
	c.PhoneNumber = phone
	c.ConsumedAt = &consumedAt
	return c, nil
}

// DeleteExpired garbage-collects challenges that expired before the cutoff
func (r *challengeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM verification_challenges WHERE expires_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
