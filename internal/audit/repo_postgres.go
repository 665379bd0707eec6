package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Schema creates the selection_audit_events table used by PostgresRepo.
const Schema = `CREATE TABLE IF NOT EXISTS selection_audit_events (
  id                UUID PRIMARY KEY,
  type              TEXT NOT NULL,
  slot_id           INT NOT NULL,
  sub_id            INT NOT NULL,
  call_id           TEXT NOT NULL DEFAULT '',
  emergency         BOOLEAN NOT NULL DEFAULT FALSE,
  domain            TEXT NOT NULL DEFAULT '',
  use_emergency_pdn BOOLEAN NOT NULL DEFAULT FALSE,
  cause             TEXT NOT NULL DEFAULT '',
  reason            TEXT NOT NULL DEFAULT '',
  actor_user_id     TEXT NOT NULL DEFAULT '',
  actor_role        TEXT NOT NULL DEFAULT '',
  ip_address        TEXT NOT NULL DEFAULT '',
  message           TEXT NOT NULL DEFAULT '',
  metadata          JSONB,
  created_at        TIMESTAMPTZ NOT NULL
)`

// PostgresRepo appends events to selection_audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: db not configured")
	}
	const q = `
INSERT INTO selection_audit_events (
  id, type, slot_id, sub_id, call_id, emergency, domain, use_emergency_pdn,
  cause, reason, actor_user_id, actor_role, ip_address, message, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NULLIF($15,'')::jsonb,$16)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.SlotID, e.SubID, e.CallID, e.Emergency, e.Domain, e.UseEmergencyPdn,
		e.Cause, e.Reason, e.ActorUserID, e.ActorRole, e.IPAddress, e.Message, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	if r.db == nil {
		return nil, errors.New("audit: db not configured")
	}
	const q = `
SELECT id, type, slot_id, sub_id, call_id, emergency, domain, use_emergency_pdn,
       cause, reason, actor_user_id, actor_role, ip_address, message,
       COALESCE(metadata::text, ''), created_at
FROM selection_audit_events
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.SlotID, &e.SubID, &e.CallID, &e.Emergency, &e.Domain, &e.UseEmergencyPdn,
			&e.Cause, &e.Reason, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
