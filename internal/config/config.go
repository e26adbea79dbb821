package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from LHUMS_* environment
// variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Security SecurityConfig
	Mail     MailConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds token issuance settings.
type AuthConfig struct {
	Secret             string
	Issuer             string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	ResetTokenTTL      time.Duration
	VerifyTokenTTL     time.Duration
	PublicBaseURL      string // embedded into reset/verification links
	LoginRatePerSecond int
	LoginRateBurst     int
}

// SecurityConfig holds the account security policy.
type SecurityConfig struct {
	PasswordMinLength    int
	PasswordHistoryDepth int
	PasswordExpiryDays   int
	MaxLoginAttempts     int
	LockoutDuration      time.Duration
}

// MailConfig holds outbound SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Enabled  bool
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LHUMS_ADDR", ":8080"),
			ReadTimeout:     getEnvDuration("LHUMS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("LHUMS_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("LHUMS_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("LHUMS_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodyBytes:    int64(getEnvInt("LHUMS_MAX_BODY_BYTES", 1<<20)),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("LHUMS_PG_DSN", ""),
			MaxOpenConns:    getEnvInt("LHUMS_PG_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("LHUMS_PG_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("LHUMS_PG_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			Secret:             getEnv("LHUMS_AUTH_SECRET", ""),
			Issuer:             getEnv("LHUMS_AUTH_ISSUER", "lhums"),
			AccessTTL:          getEnvDuration("LHUMS_ACCESS_TOKEN_TTL", time.Hour),
			RefreshTTL:         getEnvDuration("LHUMS_REFRESH_TOKEN_TTL", 30*24*time.Hour),
			ResetTokenTTL:      getEnvDuration("LHUMS_RESET_TOKEN_TTL", 24*time.Hour),
			VerifyTokenTTL:     getEnvDuration("LHUMS_VERIFY_TOKEN_TTL", 48*time.Hour),
			PublicBaseURL:      getEnv("LHUMS_PUBLIC_BASE_URL", "http://localhost:8080"),
			LoginRatePerSecond: getEnvInt("LHUMS_LOGIN_RATE_PER_SECOND", 5),
			LoginRateBurst:     getEnvInt("LHUMS_LOGIN_RATE_BURST", 10),
		},
		Security: SecurityConfig{
			PasswordMinLength:    getEnvInt("LHUMS_PASSWORD_MIN_LENGTH", 8),
			PasswordHistoryDepth: getEnvInt("LHUMS_PASSWORD_HISTORY_COUNT", 5),
			PasswordExpiryDays:   getEnvInt("LHUMS_PASSWORD_EXPIRY_DAYS", 90),
			MaxLoginAttempts:     getEnvInt("LHUMS_MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:      getEnvDuration("LHUMS_ACCOUNT_LOCKOUT_DURATION", 30*time.Minute),
		},
		Mail: MailConfig{
			Host:     getEnv("LHUMS_MAIL_HOST", "localhost"),
			Port:     getEnvInt("LHUMS_MAIL_PORT", 587),
			Username: getEnv("LHUMS_MAIL_USERNAME", ""),
			Password: getEnv("LHUMS_MAIL_PASSWORD", ""),
			From:     getEnv("LHUMS_MAIL_FROM", "noreply@lhums.local"),
			Enabled:  getEnvBool("LHUMS_MAIL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks constraints that would otherwise surface late at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("LHUMS_AUTH_SECRET is required")
	}
	if c.Security.PasswordMinLength < 6 {
		return fmt.Errorf("LHUMS_PASSWORD_MIN_LENGTH must be at least 6, got %d", c.Security.PasswordMinLength)
	}
	if c.Security.MaxLoginAttempts < 1 {
		return fmt.Errorf("LHUMS_MAX_LOGIN_ATTEMPTS must be positive, got %d", c.Security.MaxLoginAttempts)
	}
	if c.Security.LockoutDuration <= 0 {
		return errors.New("LHUMS_ACCOUNT_LOCKOUT_DURATION must be positive")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}
