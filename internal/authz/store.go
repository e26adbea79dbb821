package authz

import (
	"context"
	"time"

	"github.com/zaidku/LHUMS/internal/tenant"
)

// EffectiveGrant is a user grant joined with its attribute name, as needed
// by the resolver. The store pre-filters on grant and attribute activity;
// expiry is evaluated by the caller against its own clock.
type EffectiveGrant struct {
	Name      string
	ExpiresAt *time.Time
}

// Store persists attributes and their grants.
type Store interface {
	CreateAttribute(ctx context.Context, a *Attribute) error
	FindAttribute(ctx context.Context, id string) (*Attribute, error)
	FindAttributeByName(ctx context.Context, name string) (*Attribute, error)
	ListAttributes(ctx context.Context, category Category, onlyActive bool) ([]*Attribute, error)
	UpdateAttribute(ctx context.Context, a *Attribute) error

	// ActiveAttributeNames returns the names of every active attribute in
	// a category. Feeds the system-admin fast path.
	ActiveAttributeNames(ctx context.Context, category Category) ([]string, error)

	CreateRoleGrant(ctx context.Context, g *RoleGrant) error
	FindRoleGrant(ctx context.Context, id string) (*RoleGrant, error)
	DeleteRoleGrant(ctx context.Context, id string) error
	ListRoleGrants(ctx context.Context, labID string) ([]*RoleGrant, error)

	// RoleAttributeNames returns the names of active attributes granted to
	// a role, matching grants scoped to the lab or system-wide (nil lab).
	RoleAttributeNames(ctx context.Context, role tenant.Role, labID string) ([]string, error)

	CreateUserGrant(ctx context.Context, g *UserGrant) error
	FindUserGrant(ctx context.Context, userID, labID, attributeID string) (*UserGrant, error)
	FindUserGrantByID(ctx context.Context, id string) (*UserGrant, error)
	UpdateUserGrant(ctx context.Context, g *UserGrant) error
	ListUserGrants(ctx context.Context, labID string) ([]*UserGrant, error)

	// EffectiveUserGrants returns the user's active grants on active
	// attributes within a lab, with expiry left for the caller to judge.
	EffectiveUserGrants(ctx context.Context, userID, labID string) ([]EffectiveGrant, error)
}
