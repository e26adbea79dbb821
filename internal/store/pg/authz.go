package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/authz"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// AuthzStore implements authz.Store. The resolver's read queries filter on
// activity in SQL and leave expiry to the caller's clock.
type AuthzStore struct {
	s *Store
}

var _ authz.Store = (*AuthzStore)(nil)

// Authz returns the attribute/grant store view over the shared handle.
func (s *Store) Authz() *AuthzStore { return &AuthzStore{s: s} }

const attrColumns = `id, name, description, category, is_active, created_at`

func scanAttribute(row interface{ Scan(...any) error }) (*authz.Attribute, error) {
	var a authz.Attribute
	var category string
	err := row.Scan(&a.ID, &a.Name, &a.Description, &category, &a.IsActive, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Category = authz.Category(category)
	return &a, nil
}

func (as *AuthzStore) CreateAttribute(ctx context.Context, a *authz.Attribute) error {
	_, err := as.s.db.ExecContext(ctx, `
		insert into attributes (id, name, description, category, is_active, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, a.ID, a.Name, a.Description, string(a.Category), a.IsActive, a.CreatedAt)
	return mapWriteErr(err)
}

func (as *AuthzStore) FindAttribute(ctx context.Context, id string) (*authz.Attribute, error) {
	row := as.s.db.QueryRowContext(ctx, `select `+attrColumns+` from attributes where id=$1`, id)
	return scanAttribute(row)
}

func (as *AuthzStore) FindAttributeByName(ctx context.Context, name string) (*authz.Attribute, error) {
	row := as.s.db.QueryRowContext(ctx, `select `+attrColumns+` from attributes where name=$1`, name)
	return scanAttribute(row)
}

func (as *AuthzStore) ListAttributes(ctx context.Context, category authz.Category, onlyActive bool) ([]*authz.Attribute, error) {
	query := `select ` + attrColumns + ` from attributes
		where ($1 = '' or category = $1) and (not $2 or is_active)
		order by name`
	rows, err := as.s.db.QueryContext(ctx, query, string(category), onlyActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []*authz.Attribute
	for rows.Next() {
		a, err := scanAttribute(rows)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

func (as *AuthzStore) UpdateAttribute(ctx context.Context, a *authz.Attribute) error {
	res, err := as.s.db.ExecContext(ctx, `
		update attributes set description=$2, is_active=$3 where id=$1
	`, a.ID, a.Description, a.IsActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (as *AuthzStore) ActiveAttributeNames(ctx context.Context, category authz.Category) ([]string, error) {
	rows, err := as.s.db.QueryContext(ctx,
		`select name from attributes where category=$1 and is_active order by name`, string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (as *AuthzStore) CreateRoleGrant(ctx context.Context, g *authz.RoleGrant) error {
	_, err := as.s.db.ExecContext(ctx, `
		insert into role_attribute_grants (id, role_name, attribute_id, lab_id, granted_by, granted_at)
		values ($1,$2,$3,$4,$5,$6)
	`, g.ID, string(g.RoleName), g.AttributeID, g.LabID, g.GrantedBy, g.GrantedAt)
	return mapWriteErr(err)
}

func (as *AuthzStore) FindRoleGrant(ctx context.Context, id string) (*authz.RoleGrant, error) {
	var g authz.RoleGrant
	var role string
	err := as.s.db.QueryRowContext(ctx, `
		select id, role_name, attribute_id, lab_id, granted_by, granted_at
		from role_attribute_grants where id=$1
	`, id).Scan(&g.ID, &role, &g.AttributeID, &g.LabID, &g.GrantedBy, &g.GrantedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.RoleName = tenant.Role(role)
	return &g, nil
}

func (as *AuthzStore) DeleteRoleGrant(ctx context.Context, id string) error {
	res, err := as.s.db.ExecContext(ctx, `delete from role_attribute_grants where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (as *AuthzStore) ListRoleGrants(ctx context.Context, labID string) ([]*authz.RoleGrant, error) {
	rows, err := as.s.db.QueryContext(ctx, `
		select id, role_name, attribute_id, lab_id, granted_by, granted_at
		from role_attribute_grants
		where lab_id=$1 or lab_id is null
		order by granted_at
	`, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*authz.RoleGrant
	for rows.Next() {
		var g authz.RoleGrant
		var role string
		if err := rows.Scan(&g.ID, &role, &g.AttributeID, &g.LabID, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		g.RoleName = tenant.Role(role)
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}

func (as *AuthzStore) RoleAttributeNames(ctx context.Context, role tenant.Role, labID string) ([]string, error) {
	rows, err := as.s.db.QueryContext(ctx, `
		select a.name
		from role_attribute_grants g
		join attributes a on a.id = g.attribute_id
		where g.role_name=$1 and (g.lab_id=$2 or g.lab_id is null) and a.is_active
		order by a.name
	`, string(role), labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

const userGrantColumns = `id, user_id, lab_id, attribute_id, granted_by, granted_at, expires_at, is_active`

func scanUserGrant(row interface{ Scan(...any) error }) (*authz.UserGrant, error) {
	var g authz.UserGrant
	err := row.Scan(&g.ID, &g.UserID, &g.LabID, &g.AttributeID,
		&g.GrantedBy, &g.GrantedAt, &g.ExpiresAt, &g.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (as *AuthzStore) CreateUserGrant(ctx context.Context, g *authz.UserGrant) error {
	_, err := as.s.db.ExecContext(ctx, `
		insert into user_attribute_grants (id, user_id, lab_id, attribute_id, granted_by, granted_at, expires_at, is_active)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, g.ID, g.UserID, g.LabID, g.AttributeID, g.GrantedBy, g.GrantedAt, g.ExpiresAt, g.IsActive)
	return mapWriteErr(err)
}

func (as *AuthzStore) FindUserGrant(ctx context.Context, userID, labID, attributeID string) (*authz.UserGrant, error) {
	row := as.s.db.QueryRowContext(ctx, `
		select `+userGrantColumns+` from user_attribute_grants
		where user_id=$1 and lab_id=$2 and attribute_id=$3
	`, userID, labID, attributeID)
	return scanUserGrant(row)
}

func (as *AuthzStore) FindUserGrantByID(ctx context.Context, id string) (*authz.UserGrant, error) {
	row := as.s.db.QueryRowContext(ctx,
		`select `+userGrantColumns+` from user_attribute_grants where id=$1`, id)
	return scanUserGrant(row)
}

func (as *AuthzStore) UpdateUserGrant(ctx context.Context, g *authz.UserGrant) error {
	res, err := as.s.db.ExecContext(ctx, `
		update user_attribute_grants
		set granted_by=$2, granted_at=$3, expires_at=$4, is_active=$5
		where id=$1
	`, g.ID, g.GrantedBy, g.GrantedAt, g.ExpiresAt, g.IsActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (as *AuthzStore) ListUserGrants(ctx context.Context, labID string) ([]*authz.UserGrant, error) {
	rows, err := as.s.db.QueryContext(ctx, `
		select `+userGrantColumns+` from user_attribute_grants
		where lab_id=$1 order by granted_at
	`, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*authz.UserGrant
	for rows.Next() {
		g, err := scanUserGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (as *AuthzStore) EffectiveUserGrants(ctx context.Context, userID, labID string) ([]authz.EffectiveGrant, error) {
	rows, err := as.s.db.QueryContext(ctx, `
		select a.name, g.expires_at
		from user_attribute_grants g
		join attributes a on a.id = g.attribute_id
		where g.user_id=$1 and g.lab_id=$2 and g.is_active and a.is_active
	`, userID, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []authz.EffectiveGrant
	for rows.Next() {
		var g authz.EffectiveGrant
		if err := rows.Scan(&g.Name, &g.ExpiresAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
