package auth

import (
	"fmt"
	"testing"
	"time"
)

func testPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		HistoryDepth:     5,
		ExpiryDays:       90,
		MaxLoginAttempts: 5,
		LockoutDuration:  30 * time.Minute,
	}
}

func TestSetPasswordRoundtrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &User{ID: "u1", Username: "alice"}

	if err := u.SetPassword("correct horse", testPolicy(), now); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if !u.CheckPassword("correct horse") {
		t.Fatal("expected password to verify")
	}
	if u.CheckPassword("wrong horse") {
		t.Fatal("expected wrong password to fail")
	}
	if u.PasswordChangedAt == nil || !u.PasswordChangedAt.Equal(now) {
		t.Fatalf("expected changed_at %v, got %v", now, u.PasswordChangedAt)
	}
	wantExpiry := now.Add(90 * 24 * time.Hour)
	if u.PasswordExpiresAt == nil || !u.PasswordExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expires_at %v, got %v", wantExpiry, u.PasswordExpiresAt)
	}
}

func TestSetPasswordTooShort(t *testing.T) {
	u := &User{}
	err := u.SetPassword("short", testPolicy(), time.Now())
	if err == nil {
		t.Fatal("expected policy violation for short password")
	}
}

func TestSetPasswordClearsRequireChange(t *testing.T) {
	u := &User{RequirePasswordChange: true}
	if err := u.SetPassword("password-one", testPolicy(), time.Now()); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if u.RequirePasswordChange {
		t.Fatal("expected require_password_change to clear")
	}
}

func TestPasswordHistoryWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("bcrypt-heavy")
	}
	policy := testPolicy()
	now := time.Now()
	u := &User{}

	// Seven generations: p1 through p7. With depth 5, after setting p7
	// the history holds p2..p6.
	for i := 1; i <= 7; i++ {
		pw := fmt.Sprintf("generation-%d!", i)
		if u.PasswordReused(pw) {
			t.Fatalf("p%d unexpectedly reported reused before set", i)
		}
		if err := u.SetPassword(pw, policy, now); err != nil {
			t.Fatalf("SetPassword p%d: %v", i, err)
		}
	}

	if len(u.PasswordHistory) != policy.HistoryDepth {
		t.Fatalf("expected history depth %d, got %d", policy.HistoryDepth, len(u.PasswordHistory))
	}
	// The oldest generation fell out of the window and may be reused.
	if u.PasswordReused("generation-1!") {
		t.Fatal("expected generation-1 to be evicted from history")
	}
	for i := 2; i <= 6; i++ {
		if !u.PasswordReused(fmt.Sprintf("generation-%d!", i)) {
			t.Fatalf("expected generation-%d to be blocked by history", i)
		}
	}
}

func TestPasswordExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &User{}
	if err := u.SetPassword("password-one", testPolicy(), now); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if u.PasswordExpired(now.Add(89 * 24 * time.Hour)) {
		t.Fatal("expected password valid inside the rotation window")
	}
	if !u.PasswordExpired(now.Add(91 * 24 * time.Hour)) {
		t.Fatal("expected password expired past the rotation window")
	}
	// No expiry timestamp means never expires.
	fresh := &User{}
	if fresh.PasswordExpired(now) {
		t.Fatal("user without expiry must not expire")
	}
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	policy := testPolicy()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &User{}

	for i := 1; i < policy.MaxLoginAttempts; i++ {
		if locked := u.RecordLoginAttempt(false, policy, now); locked {
			t.Fatalf("unexpected lock after %d failures", i)
		}
	}
	if !u.RecordLoginAttempt(false, policy, now) {
		t.Fatalf("expected lock on failure %d", policy.MaxLoginAttempts)
	}
	if !u.Locked(now) {
		t.Fatal("expected account locked")
	}
	if u.Locked(now.Add(31 * time.Minute)) {
		t.Fatal("expected lock to lapse after the lockout window")
	}
}

func TestSuccessfulLoginResetsFailures(t *testing.T) {
	policy := testPolicy()
	now := time.Now().UTC()
	u := &User{FailedLoginAttempts: 3}

	u.RecordLoginAttempt(true, policy, now)
	if u.FailedLoginAttempts != 0 {
		t.Fatalf("expected failure counter reset, got %d", u.FailedLoginAttempts)
	}
	if u.LastLoginAt == nil {
		t.Fatal("expected last_login_at to be set")
	}
}

func TestUnlockClearsState(t *testing.T) {
	now := time.Now().UTC()
	u := &User{FailedLoginAttempts: 2}
	u.Lock(30*time.Minute, now)
	u.Unlock()
	if u.Locked(now) || u.FailedLoginAttempts != 0 {
		t.Fatal("expected unlock to clear lock and counter")
	}
}
