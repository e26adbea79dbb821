package auth

import "context"

// UserStore persists user identities including credential state.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, offset, limit int) ([]*User, int, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
}

// ActionTokenStore persists single-use reset/verification tokens, looked up
// by exact value.
type ActionTokenStore interface {
	Create(ctx context.Context, t *ActionToken) error
	FindByValue(ctx context.Context, kind ActionTokenKind, value string) (*ActionToken, error)
	// ConsumeForUser marks the token used and persists the user in one
	// transaction, so a half-applied reset or email change never survives.
	ConsumeForUser(ctx context.Context, tokenID string, u *User) error
}

// Mailer sends fire-and-forget account notifications. Implementations must
// not block the caller beyond an SMTP round trip; only the reset and
// verification link sends are on the critical path.
type Mailer interface {
	SendWelcome(name, email, username string) error
	SendPasswordReset(name, email, link string) error
	SendPasswordChanged(name, email string) error
	SendEmailVerification(name, email, link string) error
	SendEmailChanged(name, oldEmail string) error
	SendAccountLocked(name, email string) error
}
