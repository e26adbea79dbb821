package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LHUMS_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.AccessTTL != time.Hour {
		t.Fatalf("access ttl = %v", cfg.Auth.AccessTTL)
	}
	if cfg.Security.PasswordHistoryDepth != 5 {
		t.Fatalf("history depth = %d", cfg.Security.PasswordHistoryDepth)
	}
	if cfg.Security.LockoutDuration != 30*time.Minute {
		t.Fatalf("lockout = %v", cfg.Security.LockoutDuration)
	}
	if cfg.Mail.Enabled {
		t.Fatal("mail should default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LHUMS_AUTH_SECRET", "test-secret")
	t.Setenv("LHUMS_ADDR", ":9090")
	t.Setenv("LHUMS_ACCESS_TOKEN_TTL", "30m")
	t.Setenv("LHUMS_MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("LHUMS_MAIL_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.AccessTTL != 30*time.Minute {
		t.Fatalf("access ttl = %v", cfg.Auth.AccessTTL)
	}
	if cfg.Security.MaxLoginAttempts != 3 {
		t.Fatalf("max attempts = %d", cfg.Security.MaxLoginAttempts)
	}
	if !cfg.Mail.Enabled {
		t.Fatal("mail should be enabled")
	}
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("LHUMS_AUTH_SECRET", "test-secret")
	t.Setenv("LHUMS_ACCESS_TOKEN_TTL", "not-a-duration")
	t.Setenv("LHUMS_MAX_LOGIN_ATTEMPTS", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.AccessTTL != time.Hour {
		t.Fatalf("access ttl = %v, want default", cfg.Auth.AccessTTL)
	}
	if cfg.Security.MaxLoginAttempts != 5 {
		t.Fatalf("max attempts = %d, want default", cfg.Security.MaxLoginAttempts)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("LHUMS_AUTH_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation failure without auth secret")
	}
}

func TestValidateBounds(t *testing.T) {
	t.Setenv("LHUMS_AUTH_SECRET", "test-secret")
	t.Setenv("LHUMS_PASSWORD_MIN_LENGTH", "4")

	if _, err := Load(); err == nil {
		t.Fatal("expected rejection of password min length below 6")
	}
}
