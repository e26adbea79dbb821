package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zaidku/LHUMS/internal/audit"
	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/ids"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// Registry manages labs and memberships. Enforcement of who may call each
// operation lives in the authorization gate; the registry validates inputs
// and relies on store uniqueness constraints as the authority for conflicts.
type Registry struct {
	store    Store
	recorder *audit.Recorder
	now      func() time.Time
}

// RegistryOption configures Registry behavior.
type RegistryOption func(*Registry)

// WithRecorder attaches the audit recorder.
func WithRecorder(r *audit.Recorder) RegistryOption {
	return func(reg *Registry) { reg.recorder = r }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RegistryOption {
	return func(reg *Registry) {
		if fn != nil {
			reg.now = fn
		}
	}
}

// NewRegistry constructs a Registry.
func NewRegistry(store Store, opts ...RegistryOption) (*Registry, error) {
	if store == nil {
		return nil, errors.New("tenant: store is required")
	}
	r := &Registry{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CreateLab registers a new lab. Name and code collisions surface as
// auth.ErrConflict from the store's unique constraints.
func (r *Registry) CreateLab(ctx context.Context, actorID, name, code, description string, meta auth.RequestMeta) (*Lab, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: lab name is required", auth.ErrInvalidInput)
	}
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("%w: lab code must be 1-20 characters of letters, digits, dash or underscore", auth.ErrInvalidInput)
	}
	now := r.now().UTC()
	lab := &Lab{
		ID:          ids.New(),
		Name:        name,
		Code:        code,
		Description: strings.TrimSpace(description),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateLab(ctx, lab); err != nil {
		return nil, err
	}
	r.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionLabCreate,
		ResourceType: "lab",
		ResourceID:   lab.ID,
		Detail:       map[string]string{"name": lab.Name, "code": lab.Code},
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return lab, nil
}

// GetLab returns a lab by id.
func (r *Registry) GetLab(ctx context.Context, id string) (*Lab, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: lab_id is required", auth.ErrInvalidInput)
	}
	return r.store.FindLab(ctx, id)
}

// ListLabs returns active labs, restricted to filter when non-nil. A nil
// filter means unrestricted (system admin); the authorization gate computes
// the filter.
func (r *Registry) ListLabs(ctx context.Context, filter []string) ([]*Lab, error) {
	labs, err := r.store.ListLabs(ctx, true)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return labs, nil
	}
	allowed := make(map[string]struct{}, len(filter))
	for _, id := range filter {
		allowed[id] = struct{}{}
	}
	out := make([]*Lab, 0, len(labs))
	for _, lab := range labs {
		if _, ok := allowed[lab.ID]; ok {
			out = append(out, lab)
		}
	}
	return out, nil
}

// LabUpdate carries optional lab changes.
type LabUpdate struct {
	Name        *string
	Description *string
	IsActive    *bool
}

// UpdateLab applies an update to a lab.
func (r *Registry) UpdateLab(ctx context.Context, actorID, labID string, upd LabUpdate, meta auth.RequestMeta) (*Lab, error) {
	lab, err := r.store.FindLab(ctx, labID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: lab name is required", auth.ErrInvalidInput)
		}
		lab.Name = name
	}
	if upd.Description != nil {
		lab.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.IsActive != nil {
		lab.IsActive = *upd.IsActive
	}
	lab.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateLab(ctx, lab); err != nil {
		return nil, err
	}
	r.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionLabUpdate,
		ResourceType: "lab",
		ResourceID:   lab.ID,
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return lab, nil
}

// DeleteLab removes a lab; memberships cascade in the store.
func (r *Registry) DeleteLab(ctx context.Context, actorID, labID string, meta auth.RequestMeta) error {
	if err := r.store.DeleteLab(ctx, labID); err != nil {
		return err
	}
	r.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionLabDelete,
		ResourceType: "lab",
		ResourceID:   labID,
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return nil
}

// AddMember creates a membership. An existing row for the pair, active or
// not, is a conflict: the model is hard-delete then re-add, never
// reactivation.
func (r *Registry) AddMember(ctx context.Context, actorID, labID, userID string, role Role, meta auth.RequestMeta) (*Membership, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", auth.ErrInvalidInput)
	}
	m := &Membership{
		ID:       ids.New(),
		UserID:   userID,
		LabID:    labID,
		Role:     role,
		IsActive: true,
		JoinedAt: r.now().UTC(),
	}
	if err := r.store.AddMembership(ctx, m); err != nil {
		return nil, err
	}
	r.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionMemberAdd,
		ResourceType: "lab",
		ResourceID:   labID,
		Detail:       map[string]string{"added_user_id": userID, "role": string(role)},
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return m, nil
}

// RemoveMember hard-deletes a membership.
func (r *Registry) RemoveMember(ctx context.Context, actorID, labID, userID string, meta auth.RequestMeta) error {
	if err := r.store.RemoveMembership(ctx, userID, labID); err != nil {
		return err
	}
	r.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionMemberRemove,
		ResourceType: "lab",
		ResourceID:   labID,
		Detail:       map[string]string{"removed_user_id": userID},
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return nil
}

// UpdateRole changes the coarse role of an existing membership.
func (r *Registry) UpdateRole(ctx context.Context, actorID, labID, userID string, newRole Role, meta auth.RequestMeta) (*Membership, error) {
	if _, err := ParseRole(string(newRole)); err != nil {
		return nil, err
	}
	if err := r.store.UpdateMembershipRole(ctx, userID, labID, newRole); err != nil {
		return nil, err
	}
	m, err := r.store.FindMembership(ctx, userID, labID)
	if err != nil {
		return nil, err
	}
	r.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionRoleUpdate,
		ResourceType: "lab",
		ResourceID:   labID,
		Detail:       map[string]string{"target_user_id": userID, "new_role": string(newRole)},
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return m, nil
}

// ListMembers returns all memberships of a lab.
func (r *Registry) ListMembers(ctx context.Context, labID string) ([]*Membership, error) {
	return r.store.ListMembers(ctx, labID)
}

// ListLabsFor returns the ids of labs the user holds an active membership
// in.
func (r *Registry) ListLabsFor(ctx context.Context, userID string) ([]string, error) {
	return r.store.ListLabIDsForUser(ctx, userID)
}

// RoleOf returns the user's role in a lab, or "" when no active membership
// exists.
func (r *Registry) RoleOf(ctx context.Context, userID, labID string) (Role, error) {
	m, err := r.store.FindMembership(ctx, userID, labID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if !m.IsActive {
		return "", nil
	}
	return m.Role, nil
}

func (r *Registry) record(ctx context.Context, entry audit.Entry) {
	if r.recorder != nil {
		r.recorder.Record(ctx, entry)
	}
}
