package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wandertour/identity/internal/model"
	"github.com/wandertour/identity/internal/phone"
	"github.com/wandertour/identity/internal/repo"
)

// CooldownTracker reserves send slots per phone number
type CooldownTracker interface {
	TryReserve(phone string) (bool, time.Duration)
}

// Session is the token pair handed to a client after a successful flow
type Session struct {
	User             model.User
	AccessToken      string
	ExpiresIn        int // seconds until the access token expires
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// ChallengeTicket is the result of a send-code request
type ChallengeTicket struct {
	ChallengeID string
	ResendAfter time.Duration
}

// RegisterParams carries the registration request fields
type RegisterParams struct {
	PhoneNumber          string
	Password             string
	FirstName            string
	LastName             string
	Email                *string
	AcceptEmailMarketing bool
	AssertionToken       string
}

// Service orchestrates the register / login / forgot-password / refresh /
// logout flows. It composes the phone-identity bridge, the cooldown tracker,
// the token issuer, and the stores; callers never touch those directly.
type Service struct {
	bridge         phone.Bridge
	cooldown       CooldownTracker
	jwtService     *JWTService
	users          repo.UserRepo
	challenges     repo.ChallengeRepo
	refreshTokens  repo.RefreshRepo
	refreshTTL     time.Duration
	challengeTTL   time.Duration
	cooldownWindow time.Duration
}

// NewService creates the session façade
func NewService(
	bridge phone.Bridge,
	cooldown CooldownTracker,
	jwtService *JWTService,
	users repo.UserRepo,
	challenges repo.ChallengeRepo,
	refreshTokens repo.RefreshRepo,
	refreshTTL, challengeTTL, cooldownWindow time.Duration,
) *Service {
	return &Service{
		bridge:         bridge,
		cooldown:       cooldown,
		jwtService:     jwtService,
		users:          users,
		challenges:     challenges,
		refreshTokens:  refreshTokens,
		refreshTTL:     refreshTTL,
		challengeTTL:   challengeTTL,
		cooldownWindow: cooldownWindow,
	}
}

// RequestCode starts a verification challenge for the phone number. The
// cooldown slot is reserved before the provider call and is kept even when
// the dispatch fails, so a flapping provider is not hammered with resends.
func (s *Service) RequestCode(ctx context.Context, rawPhone string) (*ChallengeTicket, error) {
	phoneNumber, err := phone.NormalizeE164(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}

	if ok, remaining := s.cooldown.TryReserve(phoneNumber); !ok {
		return nil, &CooldownError{Remaining: remaining}
	}

	challengeID, err := s.bridge.StartChallenge(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}

	if _, err := s.challenges.CreateOrReplace(ctx, challengeID, phoneNumber, time.Now().Add(s.challengeTTL)); err != nil {
		return nil, fmt.Errorf("record challenge: %w", err)
	}

	return &ChallengeTicket{ChallengeID: challengeID, ResendAfter: s.cooldownWindow}, nil
}

// confirmAndConsume validates the assertion with the provider and consumes
// the local challenge. Consumption is what makes an assertion single-use on
// our side; replaying a spent assertion fails with ErrChallengeInvalid.
func (s *Service) confirmAndConsume(ctx context.Context, assertionToken, phoneNumber string) error {
	if _, err := s.bridge.ConfirmAssertion(ctx, assertionToken, phoneNumber); err != nil {
		return err
	}
	if _, err := s.challenges.ConsumeActive(ctx, phoneNumber); err != nil {
		if errors.Is(err, repo.ErrNoActiveChallenge) {
			return ErrChallengeInvalid
		}
		return fmt.Errorf("consume challenge: %w", err)
	}
	return nil
}

// Register creates a phone-verified account and issues a session
func (s *Service) Register(ctx context.Context, p RegisterParams) (*Session, error) {
	phoneNumber, err := phone.NormalizeE164(p.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}
	if len(p.Password) < 8 {
		return nil, ErrWeakPassword
	}

	if err := s.confirmAndConsume(ctx, p.AssertionToken, phoneNumber); err != nil {
		return nil, err
	}

	passwordHash, err := HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, repo.CreateUserParams{
		PhoneNumber:          phoneNumber,
		PasswordHash:         passwordHash,
		FirstName:            p.FirstName,
		LastName:             p.LastName,
		Email:                p.Email,
		AcceptEmailMarketing: p.AcceptEmailMarketing,
		Role:                 model.RoleCustomer,
		IsPhoneVerified:      true,
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicatePhone) {
			return nil, ErrPhoneAlreadyRegistered
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.issueSession(ctx, user)
}

// Login authenticates by phone number and password. Unknown phone and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, rawPhone, password string) (*Session, error) {
	phoneNumber, err := phone.NormalizeE164(rawPhone)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByPhone(ctx, phoneNumber)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(ctx, user)
}

// Exists reports whether the phone number is bound to an account. Safe,
// read-only, unauthenticated; the HTTP layer rate-limits it.
func (s *Service) Exists(ctx context.Context, rawPhone string) (bool, error) {
	phoneNumber, err := phone.NormalizeE164(rawPhone)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}
	return s.users.ExistsByPhone(ctx, phoneNumber)
}

// ResetPassword completes the forgot-password flow. No session is issued;
// the caller must log in with the new password.
func (s *Service) ResetPassword(ctx context.Context, rawPhone, assertionToken, newPassword string) error {
	phoneNumber, err := phone.NormalizeE164(rawPhone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}

	user, err := s.users.GetByPhone(ctx, phoneNumber)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	if err := s.confirmAndConsume(ctx, assertionToken, phoneNumber); err != nil {
		return err
	}

	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Refresh rotates the refresh token and mints a fresh access token for the
// same user and role.
func (s *Service) Refresh(ctx context.Context, refreshTokenValue string) (*Session, error) {
	newToken, newHash, err := GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	rotated, err := s.refreshTokens.Rotate(ctx, HashRefreshToken(refreshTokenValue), newHash, time.Now().Add(s.refreshTTL))
	if err != nil {
		if errors.Is(err, repo.ErrTokenNotRotatable) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	user, err := s.users.GetByID(ctx, rotated.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	accessToken, expiresAt, err := s.jwtService.SignAccessToken(user.ID, user.PhoneNumber, user.Role)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &Session{
		User:             user,
		AccessToken:      accessToken,
		ExpiresIn:        int(time.Until(expiresAt).Seconds()),
		RefreshToken:     newToken,
		RefreshExpiresAt: rotated.ExpiresAt,
	}, nil
}

// Logout revokes the refresh token. Idempotent: revoking an unknown or
// already-revoked token succeeds.
func (s *Service) Logout(ctx context.Context, refreshTokenValue string) error {
	if err := s.refreshTokens.Revoke(ctx, HashRefreshToken(refreshTokenValue)); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// issueSession mints the access token and persists a new refresh token
func (s *Service) issueSession(ctx context.Context, user model.User) (*Session, error) {
	accessToken, expiresAt, err := s.jwtService.SignAccessToken(user.ID, user.PhoneNumber, user.Role)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshHash, err := GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	stored, err := s.refreshTokens.Create(ctx, user.ID, refreshHash, time.Now().Add(s.refreshTTL))
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Session{
		User:             user,
		AccessToken:      accessToken,
		ExpiresIn:        int(time.Until(expiresAt).Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: stored.ExpiresAt,
	}, nil
}
