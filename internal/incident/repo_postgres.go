package incident

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo persists the ledger in the call_incidents table.
//
// Assumed schema:
//   call_incidents (id, family_id, session_id, kind, reporter_id, fragment_id,
//                   reason, evidence_text, confidence, detected_at)
//   with an INSERT-only policy and:
//   CREATE UNIQUE INDEX call_incidents_auto_fragment
//     ON call_incidents (session_id, fragment_id) WHERE kind = 'auto_flagged';

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const uniqueViolation = "23505"

func (r *PostgresRepo) Append(ctx context.Context, inc Incident) error {
	const q = `
INSERT INTO call_incidents (
  id, family_id, session_id, kind, reporter_id, fragment_id,
  reason, evidence_text, confidence, detected_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		inc.ID,
		inc.FamilyID,
		inc.SessionID,
		inc.Kind,
		inc.ReporterID,
		inc.FragmentID,
		inc.Reason,
		inc.EvidenceText,
		inc.Confidence,
		inc.DetectedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateIncident
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, familyID, sessionID string) ([]Incident, error) {
	// seq is a BIGSERIAL insertion-order column; detected_at alone can tie.
	const q = `
SELECT id, family_id, session_id, kind, reporter_id, fragment_id,
       reason, evidence_text, confidence, detected_at
FROM call_incidents
WHERE family_id = $1 AND session_id = $2
ORDER BY seq
`
	rows, err := r.db.QueryContext(ctx, q, familyID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Incident, 0)
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(
			&inc.ID,
			&inc.FamilyID,
			&inc.SessionID,
			&inc.Kind,
			&inc.ReporterID,
			&inc.FragmentID,
			&inc.Reason,
			&inc.EvidenceText,
			&inc.Confidence,
			&inc.DetectedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
