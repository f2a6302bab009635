package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppPort string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	RedisAddr     string
	RedisPassword string

	DatabaseDSN string

	// SessionSecret signs stateless session tokens.
	SessionSecret []byte

	// VaultKey is the 32-byte master key for credential
	// encryption at rest (base64 raw-url encoded in the env).
	VaultKey []byte

	SchedulingBaseURL string

	SessionTokenTTL    time.Duration
	SessionMaxLifetime time.Duration
	RefreshMargin      time.Duration
}

func Load() (Config, error) {

	cfg := Config{

		AppPort: envOr("APP_PORT", "8080"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		SchedulingBaseURL: os.Getenv("SCHEDULING_BASE_URL"),

		SessionTokenTTL:    minutesOr("SESSION_TOKEN_TTL_MINUTES", 30),
		SessionMaxLifetime: minutesOr("SESSION_MAX_LIFETIME_MINUTES", 7*24*60),
		RefreshMargin:      minutesOr("CREDENTIAL_REFRESH_MARGIN_MINUTES", 5),
	}

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		return Config{}, fmt.Errorf("config: SESSION_SECRET is required")
	}
	cfg.SessionSecret = []byte(secret)

	rawKey := os.Getenv("VAULT_KEY")
	if rawKey == "" {
		return Config{}, fmt.Errorf("config: VAULT_KEY is required")
	}
	key, err := base64.RawURLEncoding.DecodeString(rawKey)
	if err != nil {
		return Config{}, fmt.Errorf("config: VAULT_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return Config{}, fmt.Errorf("config: VAULT_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.VaultKey = key

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func minutesOr(name string, fallback int64) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return time.Duration(fallback) * time.Minute
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return time.Duration(fallback) * time.Minute
	}
	return time.Duration(n) * time.Minute
}
