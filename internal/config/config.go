package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL       string
	Port              string
	JWTSecret         string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	ProviderBaseURL   string
	ProviderAPIKey    string
	ProviderTimeout   time.Duration
	SendCooldown      time.Duration
	ChallengeValidity time.Duration
}

// Load reads configuration from environment variables. Required values
// (DATABASE_URL, JWT_SECRET, PHONE_PROVIDER_URL) fail here, not at first request.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              "8080",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		ProviderTimeout:   10 * time.Second,
		SendCooldown:      90 * time.Second,
		ChallengeValidity: 5 * time.Minute,
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	providerURL := os.Getenv("PHONE_PROVIDER_URL")
	if providerURL == "" {
		return nil, fmt.Errorf("PHONE_PROVIDER_URL environment variable is required")
	}
	cfg.ProviderBaseURL = providerURL
	cfg.ProviderAPIKey = os.Getenv("PHONE_PROVIDER_API_KEY")

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if v := os.Getenv("ACCESS_TOKEN_TTL_MINUTES"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("invalid ACCESS_TOKEN_TTL_MINUTES: %q", v)
		}
		cfg.AccessTokenTTL = time.Duration(m) * time.Minute
	}

	if v := os.Getenv("REFRESH_TOKEN_TTL_DAYS"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid REFRESH_TOKEN_TTL_DAYS: %q", v)
		}
		cfg.RefreshTokenTTL = time.Duration(d) * 24 * time.Hour
	}

	if v := os.Getenv("SEND_COOLDOWN_SECONDS"); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid SEND_COOLDOWN_SECONDS: %q", v)
		}
		cfg.SendCooldown = time.Duration(s) * time.Second
	}

	if v := os.Getenv("PHONE_PROVIDER_TIMEOUT_SECONDS"); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid PHONE_PROVIDER_TIMEOUT_SECONDS: %q", v)
		}
		cfg.ProviderTimeout = time.Duration(s) * time.Second
	}

	return cfg, nil
}
