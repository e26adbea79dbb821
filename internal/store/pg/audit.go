package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zaidku/LHUMS/internal/audit"
	"github.com/zaidku/LHUMS/internal/ids"
)

// AuditStore implements audit.Store. Entries are append-only; nothing in
// the system updates or deletes them.
type AuditStore struct {
	s *Store
}

var _ audit.Store = (*AuditStore)(nil)

// Audit returns the audit store view over the shared handle.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

func (as *AuditStore) Append(ctx context.Context, entry *audit.Entry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	var detail []byte
	if len(entry.Detail) > 0 {
		var err error
		detail, err = json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
	}
	_, err := as.s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_id, action, resource_type, resource_id, detail, ip, user_agent, success, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, nullable(entry.ActorID), entry.Action, nullable(entry.ResourceType),
		nullable(entry.ResourceID), detail, nullable(entry.IP), nullable(entry.UserAgent),
		entry.Success, entry.CreatedAt)
	return err
}

// ListRecent returns the newest entries, optionally filtered by actor and
// action. Serves the admin audit trail view.
func (as *AuditStore) ListRecent(ctx context.Context, actorID, action string, limit int) ([]*audit.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := as.s.db.QueryContext(ctx, `
		select id, coalesce(actor_id,''), action, coalesce(resource_type,''),
			coalesce(resource_id,''), detail, coalesce(ip,''), coalesce(user_agent,''),
			success, created_at
		from audit_log
		where ($1 = '' or actor_id = $1) and ($2 = '' or action = $2)
		order by created_at desc
		limit $3
	`, actorID, action, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType,
			&e.ResourceID, &detail, &e.IP, &e.UserAgent, &e.Success, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// nullable maps empty strings to NULL so optional audit columns stay
// queryable with `is null`.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
