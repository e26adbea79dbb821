package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zaidku/LHUMS/internal/auth"
)

// TokenStore implements auth.ActionTokenStore. Consumption is a guarded
// update so a token burned by a concurrent request reports ErrNotFound
// rather than succeeding twice.
type TokenStore struct {
	s *Store
}

var _ auth.ActionTokenStore = (*TokenStore)(nil)

// Tokens returns the action token store view over the shared handle.
func (s *Store) Tokens() *TokenStore { return &TokenStore{s: s} }

func (ts *TokenStore) Create(ctx context.Context, t *auth.ActionToken) error {
	_, err := ts.s.db.ExecContext(ctx, `
		insert into action_tokens (id, user_id, kind, token, new_email, expires_at, used, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.ID, t.UserID, string(t.Kind), t.Token, t.NewEmail, t.ExpiresAt, t.Used, t.CreatedAt)
	return mapWriteErr(err)
}

func (ts *TokenStore) FindByValue(ctx context.Context, kind auth.ActionTokenKind, value string) (*auth.ActionToken, error) {
	var t auth.ActionToken
	var k string
	err := ts.s.db.QueryRowContext(ctx, `
		select id, user_id, kind, token, new_email, expires_at, used, created_at
		from action_tokens where kind=$1 and token=$2
	`, string(kind), value).Scan(&t.ID, &t.UserID, &k, &t.Token, &t.NewEmail, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Kind = auth.ActionTokenKind(k)
	return &t, nil
}

// ConsumeForUser burns the token and writes the user row in one
// transaction. Either both land or neither does; a token already consumed
// by a concurrent request rolls the user write back and reports
// ErrNotFound.
func (ts *TokenStore) ConsumeForUser(ctx context.Context, tokenID string, u *auth.User) error {
	history, err := historyJSON(u)
	if err != nil {
		return err
	}
	tx, err := ts.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update action_tokens set used=true where id=$1 and used=false`, tokenID)
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

	u.UpdatedAt = ts.s.now().UTC()
	res, err = tx.ExecContext(ctx, userUpdateSQL, userUpdateArgs(u, history)...)
	if err != nil {
		return mapWriteErr(err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return tx.Commit()
}
