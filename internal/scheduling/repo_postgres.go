package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists invitations in the call_invitations table.
//
// Assumed schema:
//   call_invitations (id, family_id, caller_id, recipient_id, proposed_time,
//                     duration_minutes, notes, status, created_at, responded_at)
// Status transitions rely on a compare-and-set WHERE clause rather than row
// locks; a lost update simply reports ok=false.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, inv Invitation) error {
	const q = `
INSERT INTO call_invitations (
  id, family_id, caller_id, recipient_id, proposed_time, duration_minutes, notes, status, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		inv.ID,
		inv.FamilyID,
		inv.CallerID,
		inv.RecipientID,
		inv.ProposedTime,
		inv.DurationMinutes,
		inv.Notes,
		inv.Status,
		inv.CreatedAt,
	)
	return err
}

const invitationColumns = `
id, family_id, caller_id, recipient_id, proposed_time, duration_minutes, notes, status, created_at, responded_at
`

func scanInvitation(row interface{ Scan(...any) error }) (Invitation, error) {
	var inv Invitation
	err := row.Scan(
		&inv.ID,
		&inv.FamilyID,
		&inv.CallerID,
		&inv.RecipientID,
		&inv.ProposedTime,
		&inv.DurationMinutes,
		&inv.Notes,
		&inv.Status,
		&inv.CreatedAt,
		&inv.RespondedAt,
	)
	return inv, err
}

func (r *PostgresRepo) Get(ctx context.Context, familyID, id string) (Invitation, error) {
	const q = `
SELECT ` + invitationColumns + `
FROM call_invitations
WHERE family_id = $1 AND id = $2
`
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, q, familyID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Invitation{}, ErrNotFound
		}
		return Invitation{}, err
	}
	return inv, nil
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, familyID, userID string, status InvitationStatus) ([]Invitation, error) {
	const q = `
SELECT ` + invitationColumns + `
FROM call_invitations
WHERE family_id = $1 AND recipient_id = $2 AND status = $3
ORDER BY proposed_time
`
	return r.queryList(ctx, q, familyID, userID, status)
}

func (r *PostgresRepo) ListForUser(ctx context.Context, familyID, userID string) ([]Invitation, error) {
	const q = `
SELECT ` + invitationColumns + `
FROM call_invitations
WHERE family_id = $1 AND (caller_id = $2 OR recipient_id = $2)
ORDER BY proposed_time DESC
`
	return r.queryList(ctx, q, familyID, userID)
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, familyID, id string, from, to InvitationStatus, respondedAt time.Time) (bool, error) {
	const q = `
UPDATE call_invitations
SET status = $4, responded_at = $5
WHERE family_id = $1 AND id = $2 AND status = $3
`
	res, err := r.db.ExecContext(ctx, q, familyID, id, from, to, respondedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Invitation, error) {
	const q = `
SELECT ` + invitationColumns + `
FROM call_invitations
WHERE status = 'pending' AND proposed_time < $1
`
	return r.queryList(ctx, q, cutoff)
}

func (r *PostgresRepo) queryList(ctx context.Context, q string, args ...any) ([]Invitation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
