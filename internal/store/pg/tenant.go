package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// TenantStore implements tenant.Store. Membership is one row per
// (user, lab); removal deletes the row outright, so re-adding a former
// member starts from a clean slate.
type TenantStore struct {
	s *Store
}

var _ tenant.Store = (*TenantStore)(nil)

// Tenants returns the lab/membership store view over the shared handle.
func (s *Store) Tenants() *TenantStore { return &TenantStore{s: s} }

const labColumns = `id, name, code, description, is_active, created_at, updated_at`

func scanLab(row interface{ Scan(...any) error }) (*tenant.Lab, error) {
	var lab tenant.Lab
	err := row.Scan(&lab.ID, &lab.Name, &lab.Code, &lab.Description,
		&lab.IsActive, &lab.CreatedAt, &lab.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lab, nil
}

func (ts *TenantStore) CreateLab(ctx context.Context, lab *tenant.Lab) error {
	_, err := ts.s.db.ExecContext(ctx, `
		insert into labs (id, name, code, description, is_active, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, lab.ID, lab.Name, lab.Code, lab.Description, lab.IsActive, lab.CreatedAt, lab.UpdatedAt)
	return mapWriteErr(err)
}

func (ts *TenantStore) FindLab(ctx context.Context, id string) (*tenant.Lab, error) {
	row := ts.s.db.QueryRowContext(ctx, `select `+labColumns+` from labs where id=$1`, id)
	return scanLab(row)
}

func (ts *TenantStore) FindLabByCode(ctx context.Context, code string) (*tenant.Lab, error) {
	row := ts.s.db.QueryRowContext(ctx, `select `+labColumns+` from labs where lower(code)=lower($1)`, code)
	return scanLab(row)
}

func (ts *TenantStore) ListLabs(ctx context.Context, onlyActive bool) ([]*tenant.Lab, error) {
	query := `select ` + labColumns + ` from labs order by name`
	if onlyActive {
		query = `select ` + labColumns + ` from labs where is_active order by name`
	}
	rows, err := ts.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labs []*tenant.Lab
	for rows.Next() {
		lab, err := scanLab(rows)
		if err != nil {
			return nil, err
		}
		labs = append(labs, lab)
	}
	return labs, rows.Err()
}

func (ts *TenantStore) UpdateLab(ctx context.Context, lab *tenant.Lab) error {
	lab.UpdatedAt = ts.s.now().UTC()
	res, err := ts.s.db.ExecContext(ctx, `
		update labs set name=$2, description=$3, is_active=$4, updated_at=$5 where id=$1
	`, lab.ID, lab.Name, lab.Description, lab.IsActive, lab.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
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

func (ts *TenantStore) DeleteLab(ctx context.Context, id string) error {
	res, err := ts.s.db.ExecContext(ctx, `delete from labs where id=$1`, id)
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

func (ts *TenantStore) AddMembership(ctx context.Context, m *tenant.Membership) error {
	_, err := ts.s.db.ExecContext(ctx, `
		insert into lab_memberships (id, user_id, lab_id, role, is_active, joined_at)
		values ($1,$2,$3,$4,$5,$6)
	`, m.ID, m.UserID, m.LabID, string(m.Role), m.IsActive, m.JoinedAt)
	return mapWriteErr(err)
}

func (ts *TenantStore) FindMembership(ctx context.Context, userID, labID string) (*tenant.Membership, error) {
	var m tenant.Membership
	var role string
	err := ts.s.db.QueryRowContext(ctx, `
		select id, user_id, lab_id, role, is_active, joined_at
		from lab_memberships where user_id=$1 and lab_id=$2
	`, userID, labID).Scan(&m.ID, &m.UserID, &m.LabID, &role, &m.IsActive, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Role = tenant.Role(role)
	return &m, nil
}

func (ts *TenantStore) RemoveMembership(ctx context.Context, userID, labID string) error {
	res, err := ts.s.db.ExecContext(ctx,
		`delete from lab_memberships where user_id=$1 and lab_id=$2`, userID, labID)
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

func (ts *TenantStore) UpdateMembershipRole(ctx context.Context, userID, labID string, role tenant.Role) error {
	res, err := ts.s.db.ExecContext(ctx,
		`update lab_memberships set role=$3 where user_id=$1 and lab_id=$2`, userID, labID, string(role))
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

func (ts *TenantStore) ListMembers(ctx context.Context, labID string) ([]*tenant.Membership, error) {
	rows, err := ts.s.db.QueryContext(ctx, `
		select id, user_id, lab_id, role, is_active, joined_at
		from lab_memberships where lab_id=$1 order by joined_at
	`, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*tenant.Membership
	for rows.Next() {
		var m tenant.Membership
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &m.LabID, &role, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Role = tenant.Role(role)
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (ts *TenantStore) ListLabIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := ts.s.db.QueryContext(ctx, `
		select m.lab_id
		from lab_memberships m
		join labs l on l.id = m.lab_id
		where m.user_id=$1 and m.is_active and l.is_active
		order by m.lab_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		labIDs = append(labIDs, id)
	}
	return labIDs, rows.Err()
}
