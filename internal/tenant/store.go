package tenant

import "context"

// Store persists labs and memberships. Uniqueness of lab name, lab code and
// the (user, lab) pair is enforced by the store and surfaced as
// auth.ErrConflict.
type Store interface {
	CreateLab(ctx context.Context, lab *Lab) error
	FindLab(ctx context.Context, id string) (*Lab, error)
	FindLabByCode(ctx context.Context, code string) (*Lab, error)
	ListLabs(ctx context.Context, onlyActive bool) ([]*Lab, error)
	UpdateLab(ctx context.Context, lab *Lab) error
	DeleteLab(ctx context.Context, id string) error

	AddMembership(ctx context.Context, m *Membership) error
	FindMembership(ctx context.Context, userID, labID string) (*Membership, error)
	RemoveMembership(ctx context.Context, userID, labID string) error
	UpdateMembershipRole(ctx context.Context, userID, labID string, role Role) error
	ListMembers(ctx context.Context, labID string) ([]*Membership, error)
	ListLabIDsForUser(ctx context.Context, userID string) ([]string, error)
}
