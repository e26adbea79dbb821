package audit

import (
	"context"
	"time"

	"github.com/zaidku/LHUMS/internal/obs"
)

// Action tags for security-relevant events.
const (
	ActionLogin                = "login"
	ActionFailedLogin          = "failed_login"
	ActionLogout               = "logout"
	ActionRegister             = "register"
	ActionPasswordResetRequest = "password_reset_request"
	ActionPasswordReset        = "password_reset"
	ActionPasswordChange       = "password_change"
	ActionEmailChange          = "email_change"
	ActionProfileUpdate        = "profile_update"
	ActionUserDelete           = "user_delete"
	ActionLabCreate            = "lab_create"
	ActionLabUpdate            = "lab_update"
	ActionLabDelete            = "lab_delete"
	ActionMemberAdd            = "member_add"
	ActionMemberRemove         = "member_remove"
	ActionRoleUpdate           = "role_update"
	ActionAttributeCreated     = "attribute_created"
	ActionAttributeDeactivated = "attribute_deactivated"
	ActionRoleAttrAssigned     = "role_attribute_assigned"
	ActionRoleAttrRemoved      = "role_attribute_removed"
	ActionUserAttrGranted      = "user_attribute_granted"
	ActionUserAttrRevoked      = "user_attribute_revoked"
)

// Entry is an immutable record of a security-relevant event. ActorID is
// empty for anonymous events (e.g. failed login with unknown username).
// Detail is a closed key-value structure to keep serialization deterministic.
type Entry struct {
	ID           string            `json:"id"`
	ActorID      string            `json:"actor_id,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Detail       map[string]string `json:"detail,omitempty"`
	IP           string            `json:"ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Success      bool              `json:"success"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Store appends immutable entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

// Recorder writes audit entries. A persistence failure is logged to the
// operational log and swallowed: it never aborts the triggering operation.
type Recorder struct {
	store Store
	now   func() time.Time
}

// RecorderOption configures Recorder behavior.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends an entry, best-effort.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil || r.store == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if err := r.store.Append(ctx, &entry); err != nil {
		obs.LogEvent(map[string]any{
			"level":  "error",
			"msg":    "audit append failed",
			"action": entry.Action,
			"error":  err.Error(),
		})
	}
}
