package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zaidku/LHUMS/internal/audit"
	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/ids"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// Service manages the attribute catalog and grants. Enforcement of who may
// call each operation lives in the authorization gate; the service
// validates inputs and relies on store uniqueness constraints as the
// authority for conflicts.
type Service struct {
	store    Store
	members  MembershipSource
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

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

// NewService constructs a grant-management service.
func NewService(store Store, members MembershipSource, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	if members == nil {
		return nil, errors.New("authz: membership source is required")
	}
	s := &Service{store: store, members: members, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateAttribute registers a new permission in the catalog. Name
// collisions surface as auth.ErrConflict from the unique constraint.
func (s *Service) CreateAttribute(ctx context.Context, actorID, name, description, category string, meta auth.RequestMeta) (*Attribute, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if err := ValidateAttributeName(name); err != nil {
		return nil, err
	}
	cat, err := ParseCategory(category)
	if err != nil {
		return nil, err
	}
	a := &Attribute{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Category:    cat,
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateAttribute(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionAttributeCreated,
		ResourceType: "attribute",
		ResourceID:   a.ID,
		Detail:       map[string]string{"name": a.Name, "category": string(a.Category)},
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return a, nil
}

// GetAttribute returns an attribute by id.
func (s *Service) GetAttribute(ctx context.Context, id string) (*Attribute, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: attribute_id is required", auth.ErrInvalidInput)
	}
	return s.store.FindAttribute(ctx, id)
}

// ListAttributes returns catalog entries, optionally restricted to one
// category. An empty category means all.
func (s *Service) ListAttributes(ctx context.Context, category string, onlyActive bool) ([]*Attribute, error) {
	var cat Category
	if category != "" {
		var err error
		cat, err = ParseCategory(category)
		if err != nil {
			return nil, err
		}
	}
	return s.store.ListAttributes(ctx, cat, onlyActive)
}

// DeactivateAttribute soft-disables an attribute. Existing grants keep
// their rows but stop contributing to effective sets.
func (s *Service) DeactivateAttribute(ctx context.Context, actorID, id string, meta auth.RequestMeta) error {
	a, err := s.store.FindAttribute(ctx, id)
	if err != nil {
		return err
	}
	if !a.IsActive {
		return nil
	}
	a.IsActive = false
	if err := s.store.UpdateAttribute(ctx, a); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionAttributeDeactivated,
		ResourceType: "attribute",
		ResourceID:   a.ID,
		Detail:       map[string]string{"name": a.Name},
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return nil
}

// AssignRoleAttribute grants an attribute to a role. A nil labID makes the
// grant system-wide, applying to the role in every lab. Duplicate
// (role, attribute, lab) grants surface as auth.ErrConflict.
func (s *Service) AssignRoleAttribute(ctx context.Context, actorID string, labID *string, role tenant.Role, attributeID string, meta auth.RequestMeta) (*RoleGrant, error) {
	if _, err := tenant.ParseRole(string(role)); err != nil {
		return nil, err
	}
	a, err := s.store.FindAttribute(ctx, attributeID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, fmt.Errorf("%w: attribute %s is inactive", auth.ErrInvalidInput, a.Name)
	}
	g := &RoleGrant{
		ID:          ids.New(),
		RoleName:    role,
		AttributeID: a.ID,
		LabID:       labID,
		GrantedBy:   actorID,
		GrantedAt:   s.now().UTC(),
	}
	if err := s.store.CreateRoleGrant(ctx, g); err != nil {
		return nil, err
	}
	detail := map[string]string{"role": string(role), "attribute": a.Name}
	if labID != nil {
		detail["lab_id"] = *labID
	} else {
		detail["scope"] = "system"
	}
	s.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionRoleAttrAssigned,
		ResourceType: "role_grant",
		ResourceID:   g.ID,
		Detail:       detail,
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return g, nil
}

// RemoveRoleAttribute deletes a role grant.
func (s *Service) RemoveRoleAttribute(ctx context.Context, actorID, grantID string, meta auth.RequestMeta) error {
	g, err := s.store.FindRoleGrant(ctx, grantID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRoleGrant(ctx, g.ID); err != nil {
		return err
	}
	detail := map[string]string{"role": string(g.RoleName), "attribute_id": g.AttributeID}
	if g.LabID != nil {
		detail["lab_id"] = *g.LabID
	}
	s.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionRoleAttrRemoved,
		ResourceType: "role_grant",
		ResourceID:   g.ID,
		Detail:       detail,
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return nil
}

// ListRoleGrants returns the role grants visible in a lab, including
// system-wide grants.
func (s *Service) ListRoleGrants(ctx context.Context, labID string) ([]*RoleGrant, error) {
	if strings.TrimSpace(labID) == "" {
		return nil, fmt.Errorf("%w: lab_id is required", auth.ErrInvalidInput)
	}
	return s.store.ListRoleGrants(ctx, labID)
}

// GrantUserAttribute gives a user an attribute within a lab, optionally
// time-limited. The user must hold an active membership in the lab. If a
// revoked grant for the same (user, lab, attribute) exists it is
// reactivated in place with fresh granted_by, granted_at, and expiry; an
// active one is a conflict.
func (s *Service) GrantUserAttribute(ctx context.Context, actorID, labID, userID, attributeID string, expiresAt *time.Time, meta auth.RequestMeta) (*UserGrant, error) {
	role, err := s.members.RoleOf(ctx, userID, labID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, fmt.Errorf("%w: user has no active membership in this lab", auth.ErrInvalidInput)
	}
	a, err := s.store.FindAttribute(ctx, attributeID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, fmt.Errorf("%w: attribute %s is inactive", auth.ErrInvalidInput, a.Name)
	}
	now := s.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", auth.ErrInvalidInput)
	}

	existing, err := s.store.FindUserGrant(ctx, userID, labID, a.ID)
	switch {
	case err == nil:
		if existing.IsActive {
			return nil, fmt.Errorf("%w: grant already exists", auth.ErrConflict)
		}
		existing.IsActive = true
		existing.GrantedBy = actorID
		existing.GrantedAt = now
		existing.ExpiresAt = expiresAt
		if err := s.store.UpdateUserGrant(ctx, existing); err != nil {
			return nil, err
		}
		s.recordUserGrant(ctx, actorID, existing, a.Name, "reactivated", meta)
		return existing, nil
	case errors.Is(err, auth.ErrNotFound):
		// fall through to create
	default:
		return nil, err
	}

	g := &UserGrant{
		ID:          ids.New(),
		UserID:      userID,
		LabID:       labID,
		AttributeID: a.ID,
		GrantedBy:   actorID,
		GrantedAt:   now,
		ExpiresAt:   expiresAt,
		IsActive:    true,
	}
	if err := s.store.CreateUserGrant(ctx, g); err != nil {
		return nil, err
	}
	s.recordUserGrant(ctx, actorID, g, a.Name, "granted", meta)
	return g, nil
}

// RevokeUserAttribute soft-disables a user grant. The row survives for
// audit history and future reactivation.
func (s *Service) RevokeUserAttribute(ctx context.Context, actorID, grantID string, meta auth.RequestMeta) error {
	g, err := s.store.FindUserGrantByID(ctx, grantID)
	if err != nil {
		return err
	}
	if !g.IsActive {
		return nil
	}
	g.IsActive = false
	if err := s.store.UpdateUserGrant(ctx, g); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionUserAttrRevoked,
		ResourceType: "user_grant",
		ResourceID:   g.ID,
		Detail:       map[string]string{"user_id": g.UserID, "lab_id": g.LabID, "attribute_id": g.AttributeID},
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
	return nil
}

// ListUserGrants returns all user grants within a lab, active or not.
func (s *Service) ListUserGrants(ctx context.Context, labID string) ([]*UserGrant, error) {
	if strings.TrimSpace(labID) == "" {
		return nil, fmt.Errorf("%w: lab_id is required", auth.ErrInvalidInput)
	}
	return s.store.ListUserGrants(ctx, labID)
}

func (s *Service) recordUserGrant(ctx context.Context, actorID string, g *UserGrant, attrName, state string, meta auth.RequestMeta) {
	detail := map[string]string{
		"user_id":   g.UserID,
		"lab_id":    g.LabID,
		"attribute": attrName,
		"state":     state,
	}
	if g.ExpiresAt != nil {
		detail["expires_at"] = g.ExpiresAt.UTC().Format(time.RFC3339)
	}
	s.record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionUserAttrGranted,
		ResourceType: "user_grant",
		ResourceID:   g.ID,
		Detail:       detail,
		IP:           meta.IP, UserAgent: meta.UserAgent,
		Success: true,
	})
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.recorder != nil {
		s.recorder.Record(ctx, entry)
	}
}
