package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zaidku/LHUMS/internal/auth"
)

// UserStore implements auth.UserStore. Password history rides along as a
// JSONB column so credential state updates stay a single row write.
type UserStore struct {
	s *Store
}

var _ auth.UserStore = (*UserStore)(nil)

// Users returns the user store view over the shared handle.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

const userColumns = `id, username, email, password_hash, first_name, last_name,
	is_active, is_admin, email_verified, locked_until, failed_login_attempts,
	last_login_at, password_changed_at, password_expires_at, password_history,
	require_password_change, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var u auth.User
	var history []byte
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.IsActive, &u.IsAdmin, &u.EmailVerified, &u.LockedUntil, &u.FailedLoginAttempts,
		&u.LastLoginAt, &u.PasswordChangedAt, &u.PasswordExpiresAt, &history,
		&u.RequirePasswordChange, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &u.PasswordHistory); err != nil {
			return nil, fmt.Errorf("decode password history: %w", err)
		}
	}
	return &u, nil
}

func historyJSON(u *auth.User) ([]byte, error) {
	if len(u.PasswordHistory) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(u.PasswordHistory)
}

func (us *UserStore) Create(ctx context.Context, u *auth.User) error {
	history, err := historyJSON(u)
	if err != nil {
		return err
	}
	_, err = us.s.db.ExecContext(ctx, `
		insert into users (id, username, email, password_hash, first_name, last_name,
			is_active, is_admin, email_verified, locked_until, failed_login_attempts,
			last_login_at, password_changed_at, password_expires_at, password_history,
			require_password_change, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		u.IsActive, u.IsAdmin, u.EmailVerified, u.LockedUntil, u.FailedLoginAttempts,
		u.LastLoginAt, u.PasswordChangedAt, u.PasswordExpiresAt, history,
		u.RequirePasswordChange, u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

func (us *UserStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := us.s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (us *UserStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := us.s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(username)=lower($1)`, username)
	return scanUser(row)
}

func (us *UserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := us.s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email)=lower($1)`, email)
	return scanUser(row)
}

func (us *UserStore) List(ctx context.Context, offset, limit int) ([]*auth.User, int, error) {
	var total int
	if err := us.s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := us.s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at desc offset $1 limit $2`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

const userUpdateSQL = `
	update users set username=$2, email=$3, password_hash=$4, first_name=$5,
		last_name=$6, is_active=$7, is_admin=$8, email_verified=$9,
		locked_until=$10, failed_login_attempts=$11, last_login_at=$12,
		password_changed_at=$13, password_expires_at=$14, password_history=$15,
		require_password_change=$16, updated_at=$17
	where id=$1
`

func userUpdateArgs(u *auth.User, history []byte) []any {
	return []any{
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		u.IsActive, u.IsAdmin, u.EmailVerified, u.LockedUntil, u.FailedLoginAttempts,
		u.LastLoginAt, u.PasswordChangedAt, u.PasswordExpiresAt, history,
		u.RequirePasswordChange, u.UpdatedAt,
	}
}

func (us *UserStore) Update(ctx context.Context, u *auth.User) error {
	history, err := historyJSON(u)
	if err != nil {
		return err
	}
	u.UpdatedAt = us.s.now().UTC()
	res, err := us.s.db.ExecContext(ctx, userUpdateSQL, userUpdateArgs(u, history)...)
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

func (us *UserStore) Delete(ctx context.Context, id string) error {
	res, err := us.s.db.ExecContext(ctx, `delete from users where id=$1`, id)
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
