package tenant

import (
	"fmt"
	"time"

	"github.com/zaidku/LHUMS/internal/auth"
)

// Role is the coarse per-lab role. Exactly one role per (user, lab) pair.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Rank defines the total order used for at-least-role checks:
// admin > member > viewer.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r satisfies a minimum role requirement.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank()
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleMember, RoleViewer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: role must be admin, member or viewer", auth.ErrInvalidInput)
	}
}

// Lab is an isolated organizational unit (tenant).
type Lab struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership binds a user to a lab with a coarse role. Unique per
// (user, lab); removal is a hard delete, re-adding is a fresh row.
type Membership struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	LabID    string    `json:"lab_id"`
	Role     Role      `json:"role"`
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}
