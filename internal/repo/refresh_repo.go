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

// ErrTokenNotRotatable is returned by Rotate when the presented token is
// unknown, revoked, or expired.
var ErrTokenNotRotatable = errors.New("refresh token not rotatable")

// RefreshRepo owns refresh-token rows. Callers go through these operations
// only; rows are never mutated elsewhere.
type RefreshRepo interface {
	Create(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (model.RefreshToken, error)
	// Rotate atomically revokes the old token and inserts its replacement.
	// Concurrent rotations of the same token value yield exactly one winner;
	// the rest get ErrTokenNotRotatable.
	Rotate(ctx context.Context, oldTokenHash, newTokenHash string, newExpiresAt time.Time) (model.RefreshToken, error)
	// Revoke marks the token revoked. Unknown or already-revoked tokens are
	// not an error.
	Revoke(ctx context.Context, tokenHash string) error
	IsActive(ctx context.Context, tokenHash string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a new RefreshRepo instance
func NewRefreshRepo(db *sql.DB) RefreshRepo {
	return &refreshRepo{db: db}
}

// Create inserts a new refresh token row
func (r *refreshRepo) Create(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (model.RefreshToken, error) {
	var t model.RefreshToken
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, issued_at
	`, userID, tokenHash, expiresAt).Scan(&idStr, &t.IssuedAt)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("insert refresh token: %w", err)
	}
	t.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("parse token row ID: %w", err)
	}
	t.UserID = userID
	t.TokenHash = tokenHash
	t.ExpiresAt = expiresAt
	return t, nil
}

// Rotate revokes the old token and inserts the replacement as one
// transaction. The conditional UPDATE takes the row lock: a losing
// concurrent transaction blocks on it, then sees revoked_at set and
// matches zero rows.
func (r *refreshRepo) Rotate(ctx context.Context, oldTokenHash, newTokenHash string, newExpiresAt time.Time) (model.RefreshToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var oldIDStr, userIDStr string
	err = tx.QueryRowContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()
		RETURNING id, user_id
	`, oldTokenHash).Scan(&oldIDStr, &userIDStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrTokenNotRotatable
		}
		return model.RefreshToken{}, fmt.Errorf("revoke old token: %w", err)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("parse user ID: %w", err)
	}

	var t model.RefreshToken
	var newIDStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, issued_at
	`, userID, newTokenHash, newExpiresAt).Scan(&newIDStr, &t.IssuedAt)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("insert replacement token: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET replaced_by = $2 WHERE id = $1
	`, oldIDStr, newIDStr)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("link replacement token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.RefreshToken{}, fmt.Errorf("commit: %w", err)
	}

	t.ID, err = uuid.Parse(newIDStr)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("parse token row ID: %w", err)
	}
	t.UserID = userID
	t.TokenHash = newTokenHash
	t.ExpiresAt = newExpiresAt
	return t, nil
}

// Revoke marks the token revoked. Unknown or already-revoked tokens match
// zero rows and that is not an error.
func (r *refreshRepo) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsActive reports whether the token exists, is unrevoked, and unexpired
func (r *refreshRepo) IsActive(ctx context.Context, tokenHash string) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refresh_tokens
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()
		)
	`, tokenHash).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check token active: %w", err)
	}
	return active, nil
}

// RevokeAllForUser revokes every active refresh token held by the user
func (r *refreshRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke all tokens for user: %w", err)
	}
	return nil
}
