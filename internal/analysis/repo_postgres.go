package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo persists analyses in the call_analyses table.
//
//	CREATE TABLE call_analyses (
//	    session_id      TEXT PRIMARY KEY,
//	    family_id       TEXT NOT NULL,
//	    summary         TEXT NOT NULL,
//	    safety_score    INT NOT NULL,
//	    incident_count  INT NOT NULL,
//	    recommendations JSONB NOT NULL,
//	    incomplete      BOOLEAN NOT NULL,
//	    computed_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, a CallAnalysis) error {
	recs, err := json.Marshal(a.Recommendations)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO call_analyses
			(session_id, family_id, summary, safety_score, incident_count, recommendations, incomplete, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.SessionID, a.FamilyID, a.Summary, a.SafetyScore, a.IncidentCount, recs, a.Incomplete, a.ComputedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, familyID, sessionID string) (CallAnalysis, error) {
	var a CallAnalysis
	var recs []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, family_id, summary, safety_score, incident_count, recommendations, incomplete, computed_at
		FROM call_analyses
		WHERE family_id = $1 AND session_id = $2`,
		familyID, sessionID,
	).Scan(&a.SessionID, &a.FamilyID, &a.Summary, &a.SafetyScore, &a.IncidentCount, &recs, &a.Incomplete, &a.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CallAnalysis{}, ErrNotFound
	}
	if err != nil {
		return CallAnalysis{}, err
	}
	if err := json.Unmarshal(recs, &a.Recommendations); err != nil {
		return CallAnalysis{}, err
	}
	return a, nil
}
