package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists sessions in the call_sessions table.
//
// Assumed schema:
//   call_sessions (id, invitation_id, family_id,
//                  caller_id, caller_joined, caller_joined_at,
//                  recipient_id, recipient_joined, recipient_joined_at,
//                  state, scheduled_start, scheduled_end,
//                  started_at, ended_at, end_reason, ended_by, created_at)
//
// The Manager serializes writes per session id, so Update is a plain UPDATE.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (
  id, invitation_id, family_id,
  caller_id, caller_joined, caller_joined_at,
  recipient_id, recipient_joined, recipient_joined_at,
  state, scheduled_start, scheduled_end,
  started_at, ended_at, end_reason, ended_by, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.InvitationID, s.FamilyID,
		s.Caller.UserID, s.Caller.Joined, s.Caller.JoinedAt,
		s.Recipient.UserID, s.Recipient.Joined, s.Recipient.JoinedAt,
		s.State, s.ScheduledStart, s.ScheduledEnd,
		s.StartedAt, s.EndedAt, nullableString(string(s.EndReason)), nullableString(s.EndedBy), s.CreatedAt,
	)
	return err
}

const sessionColumns = `
id, invitation_id, family_id,
caller_id, caller_joined, caller_joined_at,
recipient_id, recipient_joined, recipient_joined_at,
state, scheduled_start, scheduled_end,
started_at, ended_at, end_reason, ended_by, created_at
`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var endReason, endedBy sql.NullString
	err := row.Scan(
		&s.ID, &s.InvitationID, &s.FamilyID,
		&s.Caller.UserID, &s.Caller.Joined, &s.Caller.JoinedAt,
		&s.Recipient.UserID, &s.Recipient.Joined, &s.Recipient.JoinedAt,
		&s.State, &s.ScheduledStart, &s.ScheduledEnd,
		&s.StartedAt, &s.EndedAt, &endReason, &endedBy, &s.CreatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	s.EndReason = EndReason(endReason.String)
	s.EndedBy = endedBy.String
	return s, nil
}

func (r *PostgresRepo) Get(ctx context.Context, familyID, id string) (Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE family_id = $1 AND id = $2
`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, familyID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s Session) error {
	const q = `
UPDATE call_sessions
SET caller_joined = $3, caller_joined_at = $4,
    recipient_joined = $5, recipient_joined_at = $6,
    state = $7, started_at = $8, ended_at = $9, end_reason = $10, ended_by = $11
WHERE family_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q,
		s.FamilyID, s.ID,
		s.Caller.Joined, s.Caller.JoinedAt,
		s.Recipient.Joined, s.Recipient.JoinedAt,
		s.State, s.StartedAt, s.EndedAt, nullableString(string(s.EndReason)), nullableString(s.EndedBy),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListForUser(ctx context.Context, familyID, userID string) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE family_id = $1 AND (caller_id = $2 OR recipient_id = $2)
ORDER BY scheduled_start DESC
`
	return r.queryList(ctx, q, familyID, userID)
}

func (r *PostgresRepo) ListStale(ctx context.Context, cutoff time.Time) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE state IN ('accepted', 'awaiting_join') AND scheduled_end < $1
`
	return r.queryList(ctx, q, cutoff)
}

func (r *PostgresRepo) queryList(ctx context.Context, q string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
