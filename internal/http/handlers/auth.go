package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/wandertour/identity/internal/auth"
	"github.com/wandertour/identity/internal/middleware"
)

// AuthHandler handles the session endpoints
type AuthHandler struct {
	sessions        *auth.Service
	otpIPLimiter    *middleware.RateLimiter
	existsIPLimiter *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler. The per-phone cooldown lives in
// the service; these limiters guard per-IP abuse of the unauthenticated
// endpoints.
func NewAuthHandler(sessions *auth.Service) *AuthHandler {
	return &AuthHandler{
		sessions:        sessions,
		otpIPLimiter:    middleware.NewRateLimiter(10*time.Minute, 10),
		existsIPLimiter: middleware.NewRateLimiter(10*time.Minute, 30),
	}
}

// sessionResponse is the token pair returned by register, login and refresh
type sessionResponse struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int    `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresAt string `json:"refresh_token_expires_at"`
	TokenType             string `json:"token_type"`
}

func toSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		AccessToken:           s.AccessToken,
		ExpiresIn:             s.ExpiresIn,
		RefreshToken:          s.RefreshToken,
		RefreshTokenExpiresAt: s.RefreshExpiresAt.UTC().Format(time.RFC3339),
		TokenType:             "bearer",
	}
}

// requestCodeRequest is the body for POST /auth/otp/request
type requestCodeRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// requestCodeResponse is the body for a successful code send
type requestCodeResponse struct {
	ChallengeID        string `json:"challenge_id"`
	ResendAfterSeconds int    `json:"resend_after_seconds"`
}

// HandleRequestCode handles POST /auth/otp/request
func (h *AuthHandler) HandleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number is required")
		return
	}

	if !h.otpIPLimiter.Allow(middleware.IPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	ticket, err := h.sessions.RequestCode(r.Context(), req.PhoneNumber)
	if err != nil {
		var cdErr *auth.CooldownError
		switch {
		case errors.As(err, &cdErr):
			respondWithJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":             "cooldown_active",
				"seconds_remaining": cdErr.SecondsRemaining(),
			})
		case errors.Is(err, auth.ErrProviderUnavailable):
			respondWithError(w, http.StatusServiceUnavailable, "provider_unavailable")
		case errors.Is(err, auth.ErrInvalidPhoneNumber):
			respondWithError(w, http.StatusBadRequest, "invalid_phone_number")
		default:
			logMaskedPhone(req.PhoneNumber, "request code failed", err)
			respondWithError(w, http.StatusInternalServerError, "failed to request code")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, requestCodeResponse{
		ChallengeID:        ticket.ChallengeID,
		ResendAfterSeconds: int(ticket.ResendAfter.Seconds()),
	})
}

// registerRequest is the body for POST /auth/register
type registerRequest struct {
	PhoneNumber          string  `json:"phone_number"`
	Password             string  `json:"password"`
	FirstName            string  `json:"first_name"`
	LastName             string  `json:"last_name"`
	Email                *string `json:"email,omitempty"`
	AcceptEmailMarketing bool    `json:"accept_email_marketing"`
	AssertionToken       string  `json:"provider_assertion_token"`
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" || req.Password == "" || req.AssertionToken == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number, password and provider_assertion_token are required")
		return
	}

	sess, err := h.sessions.Register(r.Context(), auth.RegisterParams{
		PhoneNumber:          req.PhoneNumber,
		Password:             req.Password,
		FirstName:            strings.TrimSpace(req.FirstName),
		LastName:             strings.TrimSpace(req.LastName),
		Email:                req.Email,
		AcceptEmailMarketing: req.AcceptEmailMarketing,
		AssertionToken:       req.AssertionToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrPhoneAlreadyRegistered):
			respondWithError(w, http.StatusConflict, "phone_already_registered")
		case errors.Is(err, auth.ErrAssertionExpired):
			respondWithError(w, http.StatusBadRequest, "assertion_expired")
		case errors.Is(err, auth.ErrAssertionInvalid):
			respondWithError(w, http.StatusBadRequest, "assertion_invalid")
		case errors.Is(err, auth.ErrChallengeInvalid):
			respondWithError(w, http.StatusBadRequest, "challenge_invalid")
		case errors.Is(err, auth.ErrInvalidPhoneNumber):
			respondWithError(w, http.StatusBadRequest, "invalid_phone_number")
		case errors.Is(err, auth.ErrWeakPassword):
			respondWithError(w, http.StatusBadRequest, "weak_password")
		case errors.Is(err, auth.ErrProviderUnavailable):
			respondWithError(w, http.StatusServiceUnavailable, "provider_unavailable")
		default:
			logMaskedPhone(req.PhoneNumber, "registration failed", err)
			respondWithError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// loginRequest is the body for POST /auth/login
type loginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number and password are required")
		return
	}

	sess, err := h.sessions.Login(r.Context(), req.PhoneNumber, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondWithError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		logMaskedPhone(req.PhoneNumber, "login failed", err)
		respondWithError(w, http.StatusInternalServerError, "login failed")
		return
	}

	respondWithJSON(w, http.StatusOK, toSessionResponse(sess))
}

// HandleExists handles GET /auth/exists?phone_number=
// The endpoint leaks registration status, so it is rate-limited per IP.
func (h *AuthHandler) HandleExists(w http.ResponseWriter, r *http.Request) {
	phoneNumber := strings.TrimSpace(r.URL.Query().Get("phone_number"))
	if phoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number is required")
		return
	}

	if !h.existsIPLimiter.Allow(middleware.IPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	exists, err := h.sessions.Exists(r.Context(), phoneNumber)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPhoneNumber) {
			respondWithError(w, http.StatusBadRequest, "invalid_phone_number")
			return
		}
		logMaskedPhone(phoneNumber, "existence check failed", err)
		respondWithError(w, http.StatusInternalServerError, "existence check failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// forgotVerifyRequest is the body for POST /auth/forgot/verify
type forgotVerifyRequest struct {
	PhoneNumber    string `json:"phone_number"`
	AssertionToken string `json:"provider_assertion_token"`
	NewPassword    string `json:"new_password"`
}

// HandleForgotVerify handles POST /auth/forgot/verify. On success the
// password is replaced and 204 returned; no session is issued.
func (h *AuthHandler) HandleForgotVerify(w http.ResponseWriter, r *http.Request) {
	var req forgotVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" || req.AssertionToken == "" || req.NewPassword == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number, provider_assertion_token and new_password are required")
		return
	}

	err := h.sessions.ResetPassword(r.Context(), req.PhoneNumber, req.AssertionToken, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "not_found")
		case errors.Is(err, auth.ErrAssertionExpired):
			respondWithError(w, http.StatusBadRequest, "assertion_expired")
		case errors.Is(err, auth.ErrAssertionInvalid):
			respondWithError(w, http.StatusBadRequest, "assertion_invalid")
		case errors.Is(err, auth.ErrChallengeInvalid):
			respondWithError(w, http.StatusBadRequest, "challenge_invalid")
		case errors.Is(err, auth.ErrInvalidPhoneNumber):
			respondWithError(w, http.StatusBadRequest, "invalid_phone_number")
		case errors.Is(err, auth.ErrWeakPassword):
			respondWithError(w, http.StatusBadRequest, "weak_password")
		case errors.Is(err, auth.ErrProviderUnavailable):
			respondWithError(w, http.StatusServiceUnavailable, "provider_unavailable")
		default:
			logMaskedPhone(req.PhoneNumber, "password reset failed", err)
			respondWithError(w, http.StatusInternalServerError, "password reset failed")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// refreshRequest is the body for POST /auth/refresh
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	sess, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenInvalid) {
			respondWithError(w, http.StatusUnauthorized, "refresh_token_invalid")
			return
		}
		log.Printf("refresh failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	respondWithJSON(w, http.StatusOK, toSessionResponse(sess))
}

// logoutRequest is the body for POST /auth/logout
type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleLogout handles POST /auth/logout. Idempotent: unknown tokens
// still yield 204.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		log.Printf("logout failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// meResponse is the body for GET /me
type meResponse struct {
	ID              string `json:"id"`
	PhoneNumber     string `json:"phone_number"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Role            string `json:"role"`
	IsPhoneVerified bool   `json:"is_phone_verified"`
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	respondWithJSON(w, http.StatusOK, meResponse{
		ID:              user.ID.String(),
		PhoneNumber:     user.PhoneNumber,
		FirstName:       user.FirstName,
		LastName:        user.LastName,
		Role:            user.Role,
		IsPhoneVerified: user.IsPhoneVerified,
	})
}

// respondWithJSON writes a JSON response with the given status
func respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// logMaskedPhone logs a message with the phone number masked
func logMaskedPhone(phone, msg string, err error) {
	log.Printf("phone %s: %s: %v", maskPhone(phone), msg, err)
}

// maskPhone masks a phone number for logging (e.g. +84********78)
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
