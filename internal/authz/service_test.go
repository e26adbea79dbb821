package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/tenant"
)

func newTestService(t *testing.T, f *fixture) *Service {
	t.Helper()
	svc, err := NewService(f.store, f.members, WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	return svc
}

func TestValidateAttributeName(t *testing.T) {
	valid := []string{
		"lab.view",
		"lab.patient.read",
		"lab.patient.read_write",
		"reports.billing.export.all",
	}
	for _, name := range valid {
		assert.NoError(t, ValidateAttributeName(name), name)
	}

	invalid := []string{
		"",
		"lab",                    // single segment
		"Lab.view",               // uppercase
		"lab.View",               // uppercase segment
		"lab..view",              // empty segment
		"lab.view.",              // trailing dot
		".lab.view",              // leading dot
		"lab.pa tient.view",      // whitespace
		"lab.patient.view.x.y",   // five segments
		"l_ab.view",              // underscore in first segment
		"lab.patient.read-write", // hyphen
	}
	for _, name := range invalid {
		assert.Error(t, ValidateAttributeName(name), "expected rejection of %q", name)
	}
}

func TestCreateAttribute(t *testing.T) {
	f := newFixture(t)
	svc := newTestService(t, f)
	ctx := context.Background()
	meta := auth.RequestMeta{IP: "10.0.0.1"}

	a, err := svc.CreateAttribute(ctx, "root", "  Lab.Reports.Sign  ", "sign-off on reports", "reports", meta)
	require.NoError(t, err)
	assert.Equal(t, "lab.reports.sign", a.Name, "names normalize to lowercase")
	assert.Equal(t, CategoryReports, a.Category)
	assert.True(t, a.IsActive)
	assert.Equal(t, f.now, a.CreatedAt)

	_, err = svc.CreateAttribute(ctx, "root", "lab.reports.sign", "", "reports", meta)
	assert.True(t, errors.Is(err, auth.ErrConflict), "duplicate name must conflict")

	_, err = svc.CreateAttribute(ctx, "root", "lab.reports.approve", "", "payroll", meta)
	assert.True(t, errors.Is(err, auth.ErrInvalidInput), "unknown category")

	_, err = svc.CreateAttribute(ctx, "root", "not a name", "", "lab", meta)
	assert.True(t, errors.Is(err, auth.ErrInvalidInput))
}

func TestDeactivateAttributeIdempotent(t *testing.T) {
	f := newFixture(t)
	svc := newTestService(t, f)
	ctx := context.Background()

	require.NoError(t, svc.DeactivateAttribute(ctx, "root", f.attrView.ID, auth.RequestMeta{}))
	got, err := f.store.FindAttribute(ctx, f.attrView.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// repeat is a no-op, not an error
	assert.NoError(t, svc.DeactivateAttribute(ctx, "root", f.attrView.ID, auth.RequestMeta{}))
}

func TestAssignRoleAttribute(t *testing.T) {
	f := newFixture(t)
	svc := newTestService(t, f)
	ctx := context.Background()
	meta := auth.RequestMeta{}
	lab1 := "lab1"

	g, err := svc.AssignRoleAttribute(ctx, "root", &lab1, tenant.RoleViewer, f.attrView.ID, meta)
	require.NoError(t, err)
	assert.Equal(t, "root", g.GrantedBy)
	require.NotNil(t, g.LabID)
	assert.Equal(t, "lab1", *g.LabID)

	// same (role, attribute, lab) again conflicts
	_, err = svc.AssignRoleAttribute(ctx, "root", &lab1, tenant.RoleViewer, f.attrView.ID, meta)
	assert.True(t, errors.Is(err, auth.ErrConflict))

	// system-wide scope is a distinct grant
	sys, err := svc.AssignRoleAttribute(ctx, "root", nil, tenant.RoleViewer, f.attrView.ID, meta)
	require.NoError(t, err)
	assert.Nil(t, sys.LabID)

	_, err = svc.AssignRoleAttribute(ctx, "root", nil, tenant.Role("owner"), f.attrView.ID, meta)
	assert.True(t, errors.Is(err, auth.ErrInvalidInput), "unknown role")

	require.NoError(t, svc.DeactivateAttribute(ctx, "root", f.attrDelete.ID, meta))
	_, err = svc.AssignRoleAttribute(ctx, "root", nil, tenant.RoleAdmin, f.attrDelete.ID, meta)
	assert.True(t, errors.Is(err, auth.ErrInvalidInput), "inactive attribute cannot be granted")
}

func TestGrantUserAttribute(t *testing.T) {
	f := newFixture(t)
	svc := newTestService(t, f)
	ctx := context.Background()
	meta := auth.RequestMeta{}
	f.members.set("alice", "lab1", tenant.RoleMember)

	expiry := f.now.Add(72 * time.Hour)
	g, err := svc.GrantUserAttribute(ctx, "root", "lab1", "alice", f.attrDelete.ID, &expiry, meta)
	require.NoError(t, err)
	assert.True(t, g.IsActive)
	assert.Equal(t, "root", g.GrantedBy)
	require.NotNil(t, g.ExpiresAt)
	assert.Equal(t, expiry, *g.ExpiresAt)

	// active duplicate conflicts
	_, err = svc.GrantUserAttribute(ctx, "root", "lab1", "alice", f.attrDelete.ID, nil, meta)
	assert.True(t, errors.Is(err, auth.ErrConflict))

	// no membership in the lab
	_, err = svc.GrantUserAttribute(ctx, "root", "lab2", "alice", f.attrDelete.ID, nil, meta)
	assert.True(t, errors.Is(err, auth.ErrInvalidInput))

	// expiry in the past
	past := f.now.Add(-time.Minute)
	_, err = svc.GrantUserAttribute(ctx, "root", "lab1", "alice", f.attrManage.ID, &past, meta)
	assert.True(t, errors.Is(err, auth.ErrInvalidInput))
}

func TestGrantUserAttributeReactivatesRevokedRow(t *testing.T) {
	f := newFixture(t)
	svc := newTestService(t, f)
	ctx := context.Background()
	meta := auth.RequestMeta{}
	f.members.set("alice", "lab1", tenant.RoleMember)

	firstExpiry := f.now.Add(time.Hour)
	g, err := svc.GrantUserAttribute(ctx, "root", "lab1", "alice", f.attrDelete.ID, &firstExpiry, meta)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeUserAttribute(ctx, "root", g.ID, meta))

	f.now = f.now.Add(24 * time.Hour)
	re, err := svc.GrantUserAttribute(ctx, "supervisor", "lab1", "alice", f.attrDelete.ID, nil, meta)
	require.NoError(t, err)

	assert.Equal(t, g.ID, re.ID, "revoked row is reactivated, not duplicated")
	assert.True(t, re.IsActive)
	assert.Equal(t, "supervisor", re.GrantedBy, "grantor metadata is reset")
	assert.Equal(t, f.now, re.GrantedAt)
	assert.Nil(t, re.ExpiresAt, "old expiry does not survive reactivation")
}

func TestRevokeUserAttributeIdempotent(t *testing.T) {
	f := newFixture(t)
	svc := newTestService(t, f)
	ctx := context.Background()
	meta := auth.RequestMeta{}
	f.members.set("alice", "lab1", tenant.RoleMember)

	g, err := svc.GrantUserAttribute(ctx, "root", "lab1", "alice", f.attrDelete.ID, nil, meta)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeUserAttribute(ctx, "root", g.ID, meta))
	require.NoError(t, svc.RevokeUserAttribute(ctx, "root", g.ID, meta))

	got, err := f.store.FindUserGrantByID(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	err = svc.RevokeUserAttribute(ctx, "root", "missing", meta)
	assert.True(t, errors.Is(err, auth.ErrNotFound))
}

func TestListRoleGrantsRequiresLab(t *testing.T) {
	f := newFixture(t)
	svc := newTestService(t, f)

	_, err := svc.ListRoleGrants(context.Background(), "  ")
	assert.True(t, errors.Is(err, auth.ErrInvalidInput))

	grants, err := svc.ListRoleGrants(context.Background(), "lab1")
	require.NoError(t, err)
	assert.Len(t, grants, 3, "system-wide grants show in every lab")
}
