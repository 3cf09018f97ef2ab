package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-at-least-32-characters-long"

func TestSignAccessToken_RoundTrip(t *testing.T) {
	svc := NewJWTService(testSecret, 15*time.Minute)
	userID := uuid.New()

	token, expiresAt, err := svc.SignAccessToken(userID, "+84912345678", "customer")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "+84912345678", claims.PhoneNumber)
	assert.Equal(t, "customer", claims.Role)
	assert.NotEmpty(t, claims.ID, "jti must be set for log correlation")
}

func TestVerifyToken_ExpiredTokenRejected(t *testing.T) {
	svc := NewJWTService(testSecret, -1*time.Minute)
	token, _, err := svc.SignAccessToken(uuid.New(), "+84912345678", "customer")
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err, "expired token must fail verification")
}

func TestVerifyToken_WrongKeyRejected(t *testing.T) {
	svc := NewJWTService(testSecret, 15*time.Minute)
	token, _, err := svc.SignAccessToken(uuid.New(), "+84912345678", "customer")
	require.NoError(t, err)

	other := NewJWTService("a-different-secret-that-is-long-enough", 15*time.Minute)
	_, err = other.VerifyToken(token)
	assert.Error(t, err, "token signed with another key must fail verification")
}

func TestVerifyToken_UniqueTokenIDs(t *testing.T) {
	svc := NewJWTService(testSecret, 15*time.Minute)
	userID := uuid.New()

	t1, _, err := svc.SignAccessToken(userID, "+84912345678", "customer")
	require.NoError(t, err)
	t2, _, err := svc.SignAccessToken(userID, "+84912345678", "customer")
	require.NoError(t, err)

	c1, err := svc.VerifyToken(t1)
	require.NoError(t, err)
	c2, err := svc.VerifyToken(t2)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestGenerateRefreshToken(t *testing.T) {
	token, hashHex, err := GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Len(t, hashHex, 64, "SHA-256 hex is 64 characters")
	assert.Equal(t, hashHex, HashRefreshToken(token))

	token2, hash2, err := GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.NotEqual(t, hashHex, hash2)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse battery"))
	assert.False(t, CheckPassword(hash, "wrong password"))
}
