package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// MembershipSource answers role and lab questions for the resolver. It is
// satisfied by tenant.Registry.
type MembershipSource interface {
	RoleOf(ctx context.Context, userID, labID string) (tenant.Role, error)
	ListLabsFor(ctx context.Context, userID string) ([]string, error)
}

// Resolver computes the effective attribute set for a user in a lab. It is
// read-only and safe for concurrent use.
type Resolver struct {
	store   Store
	members MembershipSource
}

// NewResolver wires a resolver over grant storage and membership lookup.
func NewResolver(store Store, members MembershipSource) *Resolver {
	return &Resolver{store: store, members: members}
}

// EffectiveAttributes returns the attribute names the user holds within the
// lab at the given instant.
//
// System admins short-circuit to the full active lab-category attribute
// set. Everyone else gets the union of their role's grants (lab-scoped and
// system-wide) and their individual grants that are active and unexpired.
// A user with no active membership in the lab resolves to the empty set.
func (r *Resolver) EffectiveAttributes(ctx context.Context, user *auth.User, labID string, now time.Time) (map[string]struct{}, error) {
	if user == nil || labID == "" {
		return nil, fmt.Errorf("%w: user and lab are required", auth.ErrInvalidInput)
	}
	set := make(map[string]struct{})

	if user.IsAdmin {
		names, err := r.store.ActiveAttributeNames(ctx, CategoryLab)
		if err != nil {
			return nil, fmt.Errorf("resolve admin attributes: %w", err)
		}
		for _, n := range names {
			set[n] = struct{}{}
		}
		return set, nil
	}

	role, err := r.members.RoleOf(ctx, user.ID, labID)
	if err != nil {
		return nil, fmt.Errorf("resolve membership: %w", err)
	}
	if role == "" {
		return set, nil
	}

	roleNames, err := r.store.RoleAttributeNames(ctx, role, labID)
	if err != nil {
		return nil, fmt.Errorf("resolve role attributes: %w", err)
	}
	for _, n := range roleNames {
		set[n] = struct{}{}
	}

	grants, err := r.store.EffectiveUserGrants(ctx, user.ID, labID)
	if err != nil {
		return nil, fmt.Errorf("resolve user grants: %w", err)
	}
	for _, g := range grants {
		if g.ExpiresAt != nil && now.After(*g.ExpiresAt) {
			continue
		}
		set[g.Name] = struct{}{}
	}
	return set, nil
}

// HasMinimumRole reports whether the user's coarse role in the lab meets
// the given rank. System admins always qualify.
func (r *Resolver) HasMinimumRole(ctx context.Context, user *auth.User, labID string, min tenant.Role) (bool, error) {
	if user == nil || labID == "" {
		return false, fmt.Errorf("%w: user and lab are required", auth.ErrInvalidInput)
	}
	if user.IsAdmin {
		return true, nil
	}
	role, err := r.members.RoleOf(ctx, user.ID, labID)
	if err != nil {
		return false, err
	}
	if role == "" {
		return false, nil
	}
	return role.AtLeast(min), nil
}
