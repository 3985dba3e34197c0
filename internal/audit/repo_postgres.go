package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit events in the audit_events table.
//
//	CREATE TABLE audit_events (
//	    id            TEXT PRIMARY KEY,
//	    family_id     TEXT NOT NULL,
//	    type          TEXT NOT NULL,
//	    actor_user_id TEXT NOT NULL DEFAULT '',
//	    actor_role    TEXT NOT NULL DEFAULT '',
//	    ip_address    TEXT NOT NULL DEFAULT '',
//	    session_id    TEXT NOT NULL DEFAULT '',
//	    message       TEXT NOT NULL DEFAULT '',
//	    metadata      TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, family_id, type, actor_user_id, actor_role, ip_address, session_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.FamilyID, e.Type, e.ActorUserID, e.ActorRole, e.IPAddress, e.SessionID, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}
