package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zaidku/LHUMS/internal/audit"
	"github.com/zaidku/LHUMS/internal/ids"
	"github.com/zaidku/LHUMS/internal/obs"
)

const (
	defaultResetTokenTTL  = 24 * time.Hour
	defaultVerifyTokenTTL = 48 * time.Hour
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,80}$`)

// RequestMeta carries transport-level origin data into audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service implements the account flows: registration, login with lockout,
// token refresh, password rotation and recovery, email change.
type Service struct {
	users    UserStore
	tokens   ActionTokenStore
	issuer   *TokenIssuer
	recorder *audit.Recorder
	mailer   Mailer

	policy    PasswordPolicy
	resetTTL  time.Duration
	verifyTTL time.Duration
	baseURL   string
	now       func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithPolicy overrides the password/lockout policy.
func WithPolicy(p PasswordPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithResetTokenTTL configures password reset token lifetime.
func WithResetTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithVerifyTokenTTL configures email verification token lifetime.
func WithVerifyTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.verifyTTL = ttl
		}
	}
}

// WithBaseURL sets the public URL embedded into reset/verification links.
func WithBaseURL(u string) ServiceOption {
	return func(s *Service) {
		if v := strings.TrimRight(strings.TrimSpace(u), "/"); v != "" {
			s.baseURL = v
		}
	}
}

// WithMailer attaches the outbound mail collaborator.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) { s.mailer = m }
}

// WithRecorder attaches the audit recorder.
func WithRecorder(r *audit.Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the account service.
func NewService(users UserStore, tokens ActionTokenStore, issuer *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if users == nil || tokens == nil {
		return nil, fmt.Errorf("auth: user and token stores are required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("auth: token issuer is required")
	}
	s := &Service{
		users:     users,
		tokens:    tokens,
		issuer:    issuer,
		policy:    DefaultPasswordPolicy(),
		resetTTL:  defaultResetTokenTTL,
		verifyTTL: defaultVerifyTokenTTL,
		baseURL:   "http://localhost:8080",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the active password/lockout policy.
func (s *Service) Policy() PasswordPolicy { return s.policy }

// RegisterInput is the payload for Register.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a new active, non-admin user. The welcome email is
// best-effort.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 3-80 characters of letters, digits, dot, dash or underscore", ErrInvalidInput)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		ID:        ids.New(),
		Username:  username,
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.SetPassword(in.Password, s.policy, now); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.record(ctx, audit.Entry{
		ActorID: user.ID,
		Action:  audit.ActionRegister,
		IP:      meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	if s.mailer != nil {
		if err := s.mailer.SendWelcome(user.DisplayName(), user.Email, user.Username); err != nil {
			obs.LogEvent(map[string]any{"level": "warn", "msg": "welcome email failed", "error": err.Error()})
		}
	}
	return user, nil
}

// Login authenticates credentials and mints a session token pair. Blocking
// conditions are reported with distinct errors so callers can route the user
// to the correct remediation flow.
func (s *Service) Login(ctx context.Context, username, password string, meta RequestMeta) (TokenPair, *User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return TokenPair{}, nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	now := s.now().UTC()

	user, err := s.users.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		s.record(ctx, audit.Entry{
			Action: audit.ActionFailedLogin,
			Detail: map[string]string{"username": username},
			IP:     meta.IP, UserAgent: meta.UserAgent,
			Success: false,
		})
		obs.LoginFailuresTotal.Inc()
		return TokenPair{}, nil, ErrUnauthorized
	case err != nil:
		// A store outage is not an authentication failure.
		return TokenPair{}, nil, fmt.Errorf("lookup account: %w", err)
	}

	if user.Locked(now) {
		return TokenPair{}, nil, ErrAccountLocked
	}

	if !user.CheckPassword(password) {
		locked := user.RecordLoginAttempt(false, s.policy, now)
		user.UpdatedAt = now
		if err := s.users.Update(ctx, user); err != nil {
			return TokenPair{}, nil, err
		}
		s.record(ctx, audit.Entry{
			ActorID: user.ID,
			Action:  audit.ActionFailedLogin,
			IP:      meta.IP, UserAgent: meta.UserAgent,
			Success: false,
		})
		obs.LoginFailuresTotal.Inc()
		if locked {
			obs.AccountLockoutsTotal.Inc()
			if s.mailer != nil {
				if err := s.mailer.SendAccountLocked(user.DisplayName(), user.Email); err != nil {
					obs.LogEvent(map[string]any{"level": "warn", "msg": "lockout email failed", "error": err.Error()})
				}
			}
		}
		return TokenPair{}, nil, ErrUnauthorized
	}

	if !user.IsActive {
		return TokenPair{}, nil, ErrForbidden
	}
	if user.PasswordExpired(now) {
		return TokenPair{}, nil, ErrPasswordExpired
	}
	if user.RequirePasswordChange {
		return TokenPair{}, nil, ErrPasswordChangeRequired
	}

	user.RecordLoginAttempt(true, s.policy, now)
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return TokenPair{}, nil, err
	}

	pair, err := s.issuer.IssuePair(user.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.record(ctx, audit.Entry{
		ActorID: user.ID,
		Action:  audit.ActionLogin,
		IP:      meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return pair, user, nil
}

// Refresh exchanges a valid refresh token for a new access token without
// re-authenticating.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	userID, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	user, err := s.users.Find(ctx, userID)
	if err != nil || !user.IsActive {
		return "", time.Time{}, ErrUnauthorized
	}
	return s.issuer.IssueAccess(user.ID)
}

// Authenticate resolves a caller identity from an access token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*User, error) {
	userID, err := s.issuer.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !user.IsActive {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// ForgotPassword issues a reset token and emails the link. Always succeeds
// for unknown addresses to prevent enumeration. This is the one flow where a
// mail failure is surfaced to the caller.
func (s *Service) ForgotPassword(ctx context.Context, email string, meta RequestMeta) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil // enumeration-safe
	case err != nil:
		return fmt.Errorf("lookup account: %w", err)
	}

	token, err := NewPasswordResetToken(user.ID, s.resetTTL, s.now())
	if err != nil {
		return err
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		ActorID: user.ID,
		Action:  audit.ActionPasswordResetRequest,
		Detail:  map[string]string{"email": email},
		IP:      meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	if s.mailer != nil {
		link := s.baseURL + "/reset-password?token=" + token.Token
		if err := s.mailer.SendPasswordReset(user.DisplayName(), user.Email, link); err != nil {
			return fmt.Errorf("send reset email: %w", err)
		}
	}
	return nil
}

// ResetPassword consumes a reset token and installs a new password. A reset
// also unlocks the account.
func (s *Service) ResetPassword(ctx context.Context, tokenValue, newPassword string, meta RequestMeta) error {
	now := s.now().UTC()
	token, err := s.tokens.FindByValue(ctx, TokenKindPasswordReset, strings.TrimSpace(tokenValue))
	if err != nil || !token.Valid(now) {
		return ErrInvalidToken
	}
	user, err := s.users.Find(ctx, token.UserID)
	if err != nil {
		return ErrInvalidToken
	}
	if user.CheckPassword(newPassword) {
		return fmt.Errorf("%w: new password must differ from the current one", ErrPolicyViolation)
	}
	if user.PasswordReused(newPassword) {
		return fmt.Errorf("%w: password matches one of the last %d passwords", ErrPolicyViolation, s.policy.HistoryDepth)
	}
	if err := user.SetPassword(newPassword, s.policy, now); err != nil {
		return err
	}
	user.Unlock()
	user.UpdatedAt = now
	if err := s.tokens.ConsumeForUser(ctx, token.ID, user); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		ActorID: user.ID,
		Action:  audit.ActionPasswordReset,
		IP:      meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	if s.mailer != nil {
		if err := s.mailer.SendPasswordChanged(user.DisplayName(), user.Email); err != nil {
			obs.LogEvent(map[string]any{"level": "warn", "msg": "password changed email failed", "error": err.Error()})
		}
	}
	return nil
}

// ChangePassword rotates the password of an authenticated caller.
func (s *Service) ChangePassword(ctx context.Context, callerID, currentPassword, newPassword string, meta RequestMeta) error {
	user, err := s.users.Find(ctx, callerID)
	if err != nil {
		return err
	}
	if !user.CheckPassword(currentPassword) {
		return ErrUnauthorized
	}
	if user.CheckPassword(newPassword) {
		return fmt.Errorf("%w: new password must differ from the current one", ErrPolicyViolation)
	}
	if user.PasswordReused(newPassword) {
		return fmt.Errorf("%w: password matches one of the last %d passwords", ErrPolicyViolation, s.policy.HistoryDepth)
	}
	now := s.now().UTC()
	if err := user.SetPassword(newPassword, s.policy, now); err != nil {
		return err
	}
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		ActorID: user.ID,
		Action:  audit.ActionPasswordChange,
		IP:      meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	if s.mailer != nil {
		if err := s.mailer.SendPasswordChanged(user.DisplayName(), user.Email); err != nil {
			obs.LogEvent(map[string]any{"level": "warn", "msg": "password changed email failed", "error": err.Error()})
		}
	}
	return nil
}

// RequestEmailChange re-authenticates the caller and mails a verification
// link for the candidate address. The mail send is on the critical path.
func (s *Service) RequestEmailChange(ctx context.Context, callerID, newEmail, password string, meta RequestMeta) error {
	newEmail, err := normalizeEmail(newEmail)
	if err != nil {
		return err
	}
	user, err := s.users.Find(ctx, callerID)
	if err != nil {
		return err
	}
	if !user.CheckPassword(password) {
		return ErrUnauthorized
	}
	// Fast-fail only; the unique constraint at consumption time is the
	// authority.
	if existing, err := s.users.FindByEmail(ctx, newEmail); err == nil && existing.ID != user.ID {
		return fmt.Errorf("%w: email already in use", ErrConflict)
	}

	token, err := NewEmailVerificationToken(user.ID, newEmail, s.verifyTTL, s.now())
	if err != nil {
		return err
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return err
	}
	if s.mailer != nil {
		link := s.baseURL + "/verify-email?token=" + token.Token
		if err := s.mailer.SendEmailVerification(user.DisplayName(), newEmail, link); err != nil {
			return fmt.Errorf("send verification email: %w", err)
		}
	}
	return nil
}

// VerifyEmail consumes a verification token; the candidate address becomes
// the email of record and the account is marked verified.
func (s *Service) VerifyEmail(ctx context.Context, tokenValue string, meta RequestMeta) (*User, error) {
	now := s.now().UTC()
	token, err := s.tokens.FindByValue(ctx, TokenKindEmailVerification, strings.TrimSpace(tokenValue))
	if err != nil || !token.Valid(now) {
		return nil, ErrInvalidToken
	}
	user, err := s.users.Find(ctx, token.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	oldEmail := user.Email
	user.Email = token.NewEmail
	user.EmailVerified = true
	user.UpdatedAt = now
	if err := s.tokens.ConsumeForUser(ctx, token.ID, user); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		ActorID: user.ID,
		Action:  audit.ActionEmailChange,
		Detail:  map[string]string{"old_email": oldEmail, "new_email": user.Email},
		IP:      meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	if s.mailer != nil && oldEmail != user.Email {
		if err := s.mailer.SendEmailChanged(user.DisplayName(), oldEmail); err != nil {
			obs.LogEvent(map[string]any{"level": "warn", "msg": "email changed notice failed", "error": err.Error()})
		}
	}
	return user, nil
}

// PasswordStatus reports rotation state for the caller.
type PasswordStatus struct {
	Expired               bool       `json:"password_expired"`
	ExpiresAt             *time.Time `json:"password_expires_at,omitempty"`
	DaysUntilExpiry       *int       `json:"days_until_expiry,omitempty"`
	ChangedAt             *time.Time `json:"password_changed_at,omitempty"`
	RequirePasswordChange bool       `json:"require_password_change"`
}

// GetPasswordStatus returns the rotation state of the caller's password.
func (s *Service) GetPasswordStatus(ctx context.Context, callerID string) (PasswordStatus, error) {
	user, err := s.users.Find(ctx, callerID)
	if err != nil {
		return PasswordStatus{}, err
	}
	now := s.now().UTC()
	status := PasswordStatus{
		Expired:               user.PasswordExpired(now),
		ExpiresAt:             user.PasswordExpiresAt,
		ChangedAt:             user.PasswordChangedAt,
		RequirePasswordChange: user.RequirePasswordChange,
	}
	if user.PasswordExpiresAt != nil && !status.Expired {
		days := int(user.PasswordExpiresAt.Sub(now).Hours() / 24)
		status.DaysUntilExpiry = &days
	}
	return status, nil
}

// GetUser returns a profile; callers may read themselves, system admins may
// read anyone.
func (s *Service) GetUser(ctx context.Context, caller *User, targetID string) (*User, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}
	if caller.ID != targetID && !caller.IsAdmin {
		return nil, ErrForbidden
	}
	return s.users.Find(ctx, targetID)
}

// ListUsers pages through all users (system admin only).
func (s *Service) ListUsers(ctx context.Context, caller *User, page, perPage int) ([]*User, int, error) {
	if caller == nil {
		return nil, 0, ErrUnauthorized
	}
	if !caller.IsAdmin {
		return nil, 0, ErrForbidden
	}
	page, perPage = NormalizePagination(page, perPage)
	return s.users.List(ctx, (page-1)*perPage, perPage)
}

// NormalizePagination clamps list parameters to the accepted window so the
// transport can echo back the values actually applied.
func NormalizePagination(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

// ProfileUpdate carries optional profile changes; admin-only fields are
// rejected for non-admin callers.
type ProfileUpdate struct {
	FirstName             *string
	LastName              *string
	IsActive              *bool // admin only
	RequirePasswordChange *bool // admin only
}

// UpdateUser applies a profile update; callers may update themselves, system
// admins anyone.
func (s *Service) UpdateUser(ctx context.Context, caller *User, targetID string, upd ProfileUpdate, meta RequestMeta) (*User, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}
	if caller.ID != targetID && !caller.IsAdmin {
		return nil, ErrForbidden
	}
	if (upd.IsActive != nil || upd.RequirePasswordChange != nil) && !caller.IsAdmin {
		return nil, ErrForbidden
	}
	user, err := s.users.Find(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if upd.FirstName != nil {
		user.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		user.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.IsActive != nil {
		user.IsActive = *upd.IsActive
	}
	if upd.RequirePasswordChange != nil {
		user.RequirePasswordChange = *upd.RequirePasswordChange
	}
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		ActorID:      caller.ID,
		Action:       audit.ActionProfileUpdate,
		ResourceType: "user",
		ResourceID:   targetID,
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return user, nil
}

// DeleteUser removes a user (system admin only); memberships cascade in the
// store.
func (s *Service) DeleteUser(ctx context.Context, caller *User, targetID string, meta RequestMeta) error {
	if caller == nil {
		return ErrUnauthorized
	}
	if !caller.IsAdmin {
		return ErrForbidden
	}
	if err := s.users.Delete(ctx, targetID); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		ActorID:      caller.ID,
		Action:       audit.ActionUserDelete,
		ResourceType: "user",
		ResourceID:   targetID,
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return nil
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.recorder != nil {
		s.recorder.Record(ctx, entry)
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
