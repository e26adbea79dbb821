package auth

import (
	"fmt"
	"time"
)

// User is the account identity owning credentials, lockout state and lab
// memberships.
type User struct {
	ID                    string     `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"`
	FirstName             string     `json:"first_name,omitempty"`
	LastName              string     `json:"last_name,omitempty"`
	IsActive              bool       `json:"is_active"`
	IsAdmin               bool       `json:"is_admin"`
	EmailVerified         bool       `json:"email_verified"`
	LockedUntil           *time.Time `json:"locked_until,omitempty"`
	FailedLoginAttempts   int        `json:"-"`
	LastLoginAt           *time.Time `json:"last_login_at,omitempty"`
	PasswordChangedAt     *time.Time `json:"password_changed_at,omitempty"`
	PasswordExpiresAt     *time.Time `json:"password_expires_at,omitempty"`
	PasswordHistory       []string   `json:"-"`
	RequirePasswordChange bool       `json:"require_password_change"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SetPassword validates the plaintext against the policy, pushes the current
// hash into bounded history, and installs a fresh hash with rotation
// timestamps. Reuse prevention is the caller's precondition: check
// PasswordReused before calling.
func (u *User) SetPassword(plain string, policy PasswordPolicy, now time.Time) error {
	if len(plain) < policy.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrPolicyViolation, policy.MinLength)
	}
	if u.PasswordHash != "" {
		u.PasswordHistory = append(u.PasswordHistory, u.PasswordHash)
		if len(u.PasswordHistory) > policy.HistoryDepth {
			u.PasswordHistory = u.PasswordHistory[len(u.PasswordHistory)-policy.HistoryDepth:]
		}
	}
	hash, err := HashPassword(plain)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	changed := now.UTC()
	expires := changed.Add(time.Duration(policy.ExpiryDays) * 24 * time.Hour)
	u.PasswordChangedAt = &changed
	u.PasswordExpiresAt = &expires
	u.RequirePasswordChange = false
	return nil
}

// CheckPassword reports whether plain matches the current hash only.
func (u *User) CheckPassword(plain string) bool {
	return VerifyPassword(u.PasswordHash, plain) == nil
}

// PasswordReused reports whether plain matches any retained historical hash.
func (u *User) PasswordReused(plain string) bool {
	for _, old := range u.PasswordHistory {
		if VerifyPassword(old, plain) == nil {
			return true
		}
	}
	return false
}

// PasswordExpired reports whether the rotation deadline has passed. A user
// without an expiry timestamp never expires.
func (u *User) PasswordExpired(now time.Time) bool {
	return u.PasswordExpiresAt != nil && now.After(*u.PasswordExpiresAt)
}

// Locked reports whether the account is currently locked. Expiry is lazy:
// a locked-until in the past means not locked, no sweep required.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Lock sets the lockout window and resets the failure counter.
func (u *User) Lock(d time.Duration, now time.Time) {
	until := now.UTC().Add(d)
	u.LockedUntil = &until
	u.FailedLoginAttempts = 0
}

// Unlock clears the lockout window and the failure counter.
func (u *User) Unlock() {
	u.LockedUntil = nil
	u.FailedLoginAttempts = 0
}

// RecordLoginAttempt updates the failure counter; a failure that reaches the
// policy threshold locks the account. Returns true if this attempt triggered
// a lock.
func (u *User) RecordLoginAttempt(success bool, policy PasswordPolicy, now time.Time) bool {
	if success {
		u.FailedLoginAttempts = 0
		ts := now.UTC()
		u.LastLoginAt = &ts
		return false
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= policy.MaxLoginAttempts {
		u.Lock(policy.LockoutDuration, now)
		return true
	}
	return false
}

// DisplayName is used in outbound mail.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}
