package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wandertour/identity/internal/model"
)

// Sentinel errors surfaced by the repositories; the auth service maps them
// to the flow taxonomy.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicatePhone = errors.New("phone number already registered")
)

// CreateUserParams carries the fields needed to create an account
type CreateUserParams struct {
	PhoneNumber          string
	PasswordHash         string
	FirstName            string
	LastName             string
	Email                *string
	AcceptEmailMarketing bool
	Role                 string
	IsPhoneVerified      bool
}

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, p CreateUserParams) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone_number, password_hash, first_name, last_name, email,
	accept_email_marketing, role, is_phone_verified, created_at`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	var idStr string
	err := row.Scan(
		&idStr,
		&u.PhoneNumber,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&u.AcceptEmailMarketing,
		&u.Role,
		&u.IsPhoneVerified,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	return u, nil
}

// Create inserts a new user. A phone number collision returns ErrDuplicatePhone.
func (r *userRepo) Create(ctx context.Context, p CreateUserParams) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (phone_number, password_hash, first_name, last_name, email,
			accept_email_marketing, role, is_phone_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		p.PhoneNumber, p.PasswordHash, p.FirstName, p.LastName, p.Email,
		p.AcceptEmailMarketing, p.Role, p.IsPhoneVerified,
	)
	u, err := scanUser(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.User{}, ErrDuplicatePhone
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetByPhone retrieves a user by normalized phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE phone_number = $1
	`, phone)
	return scanUser(row)
}

// ExistsByPhone reports whether an account is bound to the phone number.
// Read-only; used by the unauthenticated existence check.
func (r *userRepo) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE phone_number = $1)
	`, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check phone exists: %w", err)
	}
	return exists, nil
}

// UpdatePassword replaces the stored password hash
func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
