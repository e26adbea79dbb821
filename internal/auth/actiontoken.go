package auth

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/zaidku/LHUMS/internal/ids"
)

// ActionTokenKind distinguishes persisted single-use tokens.
type ActionTokenKind string

const (
	TokenKindPasswordReset     ActionTokenKind = "password_reset"
	TokenKindEmailVerification ActionTokenKind = "email_verification"
)

// ActionToken is a persisted single-use credential: password reset or
// email-change verification. It becomes permanently invalid once used or
// expired, whichever is observed first; expiry is detected at read time.
type ActionToken struct {
	ID        string
	UserID    string
	Kind      ActionTokenKind
	Token     string
	NewEmail  string // candidate email, set for email_verification only
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// NewPasswordResetToken mints a reset token for userID valid for ttl.
func NewPasswordResetToken(userID string, ttl time.Duration, now time.Time) (*ActionToken, error) {
	value, err := opaqueToken()
	if err != nil {
		return nil, err
	}
	return &ActionToken{
		ID:        ids.New(),
		UserID:    userID,
		Kind:      TokenKindPasswordReset,
		Token:     value,
		ExpiresAt: now.UTC().Add(ttl),
		CreatedAt: now.UTC(),
	}, nil
}

// NewEmailVerificationToken mints a verification token carrying the candidate
// email, which becomes the address of record only when the token is consumed.
func NewEmailVerificationToken(userID, newEmail string, ttl time.Duration, now time.Time) (*ActionToken, error) {
	value, err := opaqueToken()
	if err != nil {
		return nil, err
	}
	return &ActionToken{
		ID:        ids.New(),
		UserID:    userID,
		Kind:      TokenKindEmailVerification,
		Token:     value,
		NewEmail:  newEmail,
		ExpiresAt: now.UTC().Add(ttl),
		CreatedAt: now.UTC(),
	}, nil
}

// Valid reports whether the token can still be consumed.
func (t *ActionToken) Valid(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// MarkUsed is a terminal, irreversible transition.
func (t *ActionToken) MarkUsed() {
	t.Used = true
}

// opaqueToken returns 32 bytes of entropy, URL-safe encoded.
func opaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
