package auth

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy holds the configurable account security constants.
type PasswordPolicy struct {
	MinLength        int
	HistoryDepth     int
	ExpiryDays       int
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// DefaultPasswordPolicy mirrors the deployment defaults: 8-char minimum,
// last 5 hashes retained, 90-day rotation, lock after 5 failures for 30
// minutes.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		HistoryDepth:     5,
		ExpiryDays:       90,
		MaxLoginAttempts: 5,
		LockoutDuration:  30 * time.Minute,
	}
}

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
