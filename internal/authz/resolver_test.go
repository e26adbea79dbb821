package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// memStore is an in-memory Store for resolver/gate/service tests.
type memStore struct {
	attributes map[string]*Attribute // by id
	roleGrants map[string]*RoleGrant // by id
	userGrants map[string]*UserGrant // by id
}

func newMemStore() *memStore {
	return &memStore{
		attributes: make(map[string]*Attribute),
		roleGrants: make(map[string]*RoleGrant),
		userGrants: make(map[string]*UserGrant),
	}
}

func (m *memStore) CreateAttribute(_ context.Context, a *Attribute) error {
	for _, e := range m.attributes {
		if e.Name == a.Name {
			return auth.ErrConflict
		}
	}
	cp := *a
	m.attributes[a.ID] = &cp
	return nil
}

func (m *memStore) FindAttribute(_ context.Context, id string) (*Attribute, error) {
	a, ok := m.attributes[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) FindAttributeByName(_ context.Context, name string) (*Attribute, error) {
	for _, a := range m.attributes {
		if a.Name == name {
			cp := *a
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) ListAttributes(_ context.Context, category Category, onlyActive bool) ([]*Attribute, error) {
	var out []*Attribute
	for _, a := range m.attributes {
		if category != "" && a.Category != category {
			continue
		}
		if onlyActive && !a.IsActive {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateAttribute(_ context.Context, a *Attribute) error {
	if _, ok := m.attributes[a.ID]; !ok {
		return auth.ErrNotFound
	}
	cp := *a
	m.attributes[a.ID] = &cp
	return nil
}

func (m *memStore) ActiveAttributeNames(_ context.Context, category Category) ([]string, error) {
	var out []string
	for _, a := range m.attributes {
		if a.Category == category && a.IsActive {
			out = append(out, a.Name)
		}
	}
	return out, nil
}

func (m *memStore) CreateRoleGrant(_ context.Context, g *RoleGrant) error {
	for _, e := range m.roleGrants {
		if e.RoleName == g.RoleName && e.AttributeID == g.AttributeID && sameScope(e.LabID, g.LabID) {
			return auth.ErrConflict
		}
	}
	cp := *g
	m.roleGrants[g.ID] = &cp
	return nil
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *memStore) FindRoleGrant(_ context.Context, id string) (*RoleGrant, error) {
	g, ok := m.roleGrants[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) DeleteRoleGrant(_ context.Context, id string) error {
	if _, ok := m.roleGrants[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.roleGrants, id)
	return nil
}

func (m *memStore) ListRoleGrants(_ context.Context, labID string) ([]*RoleGrant, error) {
	var out []*RoleGrant
	for _, g := range m.roleGrants {
		if g.LabID == nil || *g.LabID == labID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) RoleAttributeNames(_ context.Context, role tenant.Role, labID string) ([]string, error) {
	var out []string
	for _, g := range m.roleGrants {
		if g.RoleName != role {
			continue
		}
		if g.LabID != nil && *g.LabID != labID {
			continue
		}
		a, ok := m.attributes[g.AttributeID]
		if !ok || !a.IsActive {
			continue
		}
		out = append(out, a.Name)
	}
	return out, nil
}

func (m *memStore) CreateUserGrant(_ context.Context, g *UserGrant) error {
	for _, e := range m.userGrants {
		if e.UserID == g.UserID && e.LabID == g.LabID && e.AttributeID == g.AttributeID {
			return auth.ErrConflict
		}
	}
	cp := *g
	m.userGrants[g.ID] = &cp
	return nil
}

func (m *memStore) FindUserGrant(_ context.Context, userID, labID, attributeID string) (*UserGrant, error) {
	for _, g := range m.userGrants {
		if g.UserID == userID && g.LabID == labID && g.AttributeID == attributeID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) FindUserGrantByID(_ context.Context, id string) (*UserGrant, error) {
	g, ok := m.userGrants[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) UpdateUserGrant(_ context.Context, g *UserGrant) error {
	if _, ok := m.userGrants[g.ID]; !ok {
		return auth.ErrNotFound
	}
	cp := *g
	m.userGrants[g.ID] = &cp
	return nil
}

func (m *memStore) ListUserGrants(_ context.Context, labID string) ([]*UserGrant, error) {
	var out []*UserGrant
	for _, g := range m.userGrants {
		if g.LabID == labID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) EffectiveUserGrants(_ context.Context, userID, labID string) ([]EffectiveGrant, error) {
	var out []EffectiveGrant
	for _, g := range m.userGrants {
		if g.UserID != userID || g.LabID != labID || !g.IsActive {
			continue
		}
		a, ok := m.attributes[g.AttributeID]
		if !ok || !a.IsActive {
			continue
		}
		out = append(out, EffectiveGrant{Name: a.Name, ExpiresAt: g.ExpiresAt})
	}
	return out, nil
}

// memMembers is a canned MembershipSource.
type memMembers struct {
	roles map[string]tenant.Role // key userID|labID
}

func newMemMembers() *memMembers {
	return &memMembers{roles: make(map[string]tenant.Role)}
}

func (m *memMembers) set(userID, labID string, role tenant.Role) {
	m.roles[userID+"|"+labID] = role
}

func (m *memMembers) RoleOf(_ context.Context, userID, labID string) (tenant.Role, error) {
	return m.roles[userID+"|"+labID], nil
}

func (m *memMembers) ListLabsFor(_ context.Context, userID string) ([]string, error) {
	var out []string
	for key := range m.roles {
		if len(key) > len(userID) && key[:len(userID)] == userID && key[len(userID)] == '|' {
			out = append(out, key[len(userID)+1:])
		}
	}
	return out, nil
}

// fixture provides a seeded store: three lab attributes, role grants for
// member (view) and admin (view+manage), and helpers to add user grants.
type fixture struct {
	store   *memStore
	members *memMembers
	now     time.Time

	attrView   *Attribute
	attrManage *Attribute
	attrDelete *Attribute
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemStore(),
		members: newMemMembers(),
		now:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()

	f.attrView = &Attribute{ID: "a-view", Name: "lab.patient.view", Category: CategoryLab, IsActive: true, CreatedAt: f.now}
	f.attrManage = &Attribute{ID: "a-manage", Name: "lab.patient.manage", Category: CategoryLab, IsActive: true, CreatedAt: f.now}
	f.attrDelete = &Attribute{ID: "a-delete", Name: "lab.patient.delete", Category: CategoryLab, IsActive: true, CreatedAt: f.now}
	for _, a := range []*Attribute{f.attrView, f.attrManage, f.attrDelete} {
		require.NoError(t, f.store.CreateAttribute(ctx, a))
	}

	// member gets view system-wide; admin additionally manage.
	require.NoError(t, f.store.CreateRoleGrant(ctx, &RoleGrant{
		ID: "rg1", RoleName: tenant.RoleMember, AttributeID: f.attrView.ID, GrantedAt: f.now,
	}))
	require.NoError(t, f.store.CreateRoleGrant(ctx, &RoleGrant{
		ID: "rg2", RoleName: tenant.RoleAdmin, AttributeID: f.attrView.ID, GrantedAt: f.now,
	}))
	require.NoError(t, f.store.CreateRoleGrant(ctx, &RoleGrant{
		ID: "rg3", RoleName: tenant.RoleAdmin, AttributeID: f.attrManage.ID, GrantedAt: f.now,
	}))
	return f
}

func (f *fixture) resolver() *Resolver {
	return NewResolver(f.store, f.members)
}

func TestEffectiveAttributesRoleUnion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members.set("alice", "lab1", tenant.RoleMember)

	alice := &auth.User{ID: "alice"}
	attrs, err := f.resolver().EffectiveAttributes(ctx, alice, "lab1", f.now)
	require.NoError(t, err)
	assert.Contains(t, attrs, "lab.patient.view")
	assert.NotContains(t, attrs, "lab.patient.manage")
	assert.NotContains(t, attrs, "lab.patient.delete")
}

func TestEffectiveAttributesUserGrantUnion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members.set("alice", "lab1", tenant.RoleMember)
	require.NoError(t, f.store.CreateUserGrant(ctx, &UserGrant{
		ID: "ug1", UserID: "alice", LabID: "lab1", AttributeID: f.attrDelete.ID,
		GrantedAt: f.now, IsActive: true,
	}))

	attrs, err := f.resolver().EffectiveAttributes(ctx, &auth.User{ID: "alice"}, "lab1", f.now)
	require.NoError(t, err)
	assert.Contains(t, attrs, "lab.patient.view")
	assert.Contains(t, attrs, "lab.patient.delete")
}

func TestEffectiveAttributesExpiredGrantIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members.set("alice", "lab1", tenant.RoleMember)
	expired := f.now.Add(-time.Hour)
	require.NoError(t, f.store.CreateUserGrant(ctx, &UserGrant{
		ID: "ug1", UserID: "alice", LabID: "lab1", AttributeID: f.attrDelete.ID,
		GrantedAt: f.now.Add(-48 * time.Hour), ExpiresAt: &expired, IsActive: true,
	}))

	attrs, err := f.resolver().EffectiveAttributes(ctx, &auth.User{ID: "alice"}, "lab1", f.now)
	require.NoError(t, err)
	assert.NotContains(t, attrs, "lab.patient.delete", "expired grant must not contribute")
	assert.Contains(t, attrs, "lab.patient.view")
}

func TestEffectiveAttributesRevokedGrantIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members.set("alice", "lab1", tenant.RoleMember)
	require.NoError(t, f.store.CreateUserGrant(ctx, &UserGrant{
		ID: "ug1", UserID: "alice", LabID: "lab1", AttributeID: f.attrDelete.ID,
		GrantedAt: f.now, IsActive: false,
	}))

	attrs, err := f.resolver().EffectiveAttributes(ctx, &auth.User{ID: "alice"}, "lab1", f.now)
	require.NoError(t, err)
	assert.NotContains(t, attrs, "lab.patient.delete")
}

func TestEffectiveAttributesNoMembershipEmpty(t *testing.T) {
	f := newFixture(t)
	attrs, err := f.resolver().EffectiveAttributes(context.Background(), &auth.User{ID: "stranger"}, "lab1", f.now)
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestEffectiveAttributesSystemAdminFastPath(t *testing.T) {
	f := newFixture(t)
	// No membership anywhere, but the system admin flag short-circuits to
	// every active lab-category attribute.
	admin := &auth.User{ID: "root", IsAdmin: true}
	attrs, err := f.resolver().EffectiveAttributes(context.Background(), admin, "lab1", f.now)
	require.NoError(t, err)
	assert.Len(t, attrs, 3)
	assert.Contains(t, attrs, "lab.patient.delete")
}

func TestEffectiveAttributesDeactivatedAttributeDropsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members.set("alice", "lab1", tenant.RoleMember)

	f.attrView.IsActive = false
	require.NoError(t, f.store.UpdateAttribute(ctx, f.attrView))

	attrs, err := f.resolver().EffectiveAttributes(ctx, &auth.User{ID: "alice"}, "lab1", f.now)
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestEffectiveAttributesLabScopedRoleGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lab1 := "lab1"
	require.NoError(t, f.store.CreateRoleGrant(ctx, &RoleGrant{
		ID: "rg-scoped", RoleName: tenant.RoleViewer, AttributeID: f.attrView.ID,
		LabID: &lab1, GrantedAt: f.now,
	}))
	f.members.set("vera", "lab1", tenant.RoleViewer)
	f.members.set("vera", "lab2", tenant.RoleViewer)

	inLab1, err := f.resolver().EffectiveAttributes(ctx, &auth.User{ID: "vera"}, "lab1", f.now)
	require.NoError(t, err)
	assert.Contains(t, inLab1, "lab.patient.view")

	inLab2, err := f.resolver().EffectiveAttributes(ctx, &auth.User{ID: "vera"}, "lab2", f.now)
	require.NoError(t, err)
	assert.NotContains(t, inLab2, "lab.patient.view", "lab-scoped grant must not leak to other labs")
}

func TestEffectiveAttributesMixedScopeRoleGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lab1 := "lab1"
	// viewer holds view everywhere plus manage only in lab1.
	require.NoError(t, f.store.CreateRoleGrant(ctx, &RoleGrant{
		ID: "rg-sys", RoleName: tenant.RoleViewer, AttributeID: f.attrView.ID, GrantedAt: f.now,
	}))
	require.NoError(t, f.store.CreateRoleGrant(ctx, &RoleGrant{
		ID: "rg-lab", RoleName: tenant.RoleViewer, AttributeID: f.attrManage.ID,
		LabID: &lab1, GrantedAt: f.now,
	}))
	f.members.set("vera", "lab1", tenant.RoleViewer)
	f.members.set("vera", "lab2", tenant.RoleViewer)

	inLab1, err := f.resolver().EffectiveAttributes(ctx, &auth.User{ID: "vera"}, "lab1", f.now)
	require.NoError(t, err)
	assert.Contains(t, inLab1, "lab.patient.view", "system-wide grant applies in every lab")
	assert.Contains(t, inLab1, "lab.patient.manage", "lab-scoped grant joins the same union")

	inLab2, err := f.resolver().EffectiveAttributes(ctx, &auth.User{ID: "vera"}, "lab2", f.now)
	require.NoError(t, err)
	assert.Contains(t, inLab2, "lab.patient.view")
	assert.NotContains(t, inLab2, "lab.patient.manage")
}

func TestHasMinimumRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members.set("alice", "lab1", tenant.RoleMember)
	r := f.resolver()

	ok, err := r.HasMinimumRole(ctx, &auth.User{ID: "alice"}, "lab1", tenant.RoleViewer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasMinimumRole(ctx, &auth.User{ID: "alice"}, "lab1", tenant.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.HasMinimumRole(ctx, &auth.User{ID: "root", IsAdmin: true}, "lab1", tenant.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, ok, "system admin satisfies any role floor")

	ok, err = r.HasMinimumRole(ctx, &auth.User{ID: "stranger"}, "lab1", tenant.RoleViewer)
	require.NoError(t, err)
	assert.False(t, ok)
}
