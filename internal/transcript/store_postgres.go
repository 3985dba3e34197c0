package transcript

import (
	"context"
	"database/sql"
)

// PostgresStore persists fragments in the call_transcript_fragments table.
//
//	CREATE TABLE call_transcript_fragments (
//	    seq          BIGSERIAL PRIMARY KEY,
//	    fragment_id  TEXT NOT NULL,
//	    family_id    TEXT NOT NULL,
//	    session_id   TEXT NOT NULL,
//	    speaker_id   TEXT NOT NULL,
//	    sequence_no  BIGINT NOT NULL,
//	    text         TEXT NOT NULL,
//	    confidence   DOUBLE PRECISION NOT NULL,
//	    is_final     BOOLEAN NOT NULL,
//	    received_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_transcript_session ON call_transcript_fragments (family_id, session_id);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, f Fragment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_transcript_fragments
			(fragment_id, family_id, session_id, speaker_id, sequence_no, text, confidence, is_final, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.FragmentID, f.FamilyID, f.SessionID, f.SpeakerID,
		f.SequenceNo, f.Text, f.Confidence, f.IsFinal, f.ReceivedAt,
	)
	return err
}

func (s *PostgresStore) ListFinal(ctx context.Context, familyID, sessionID string) ([]Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fragment_id, family_id, session_id, speaker_id, sequence_no, text, confidence, is_final, received_at
		FROM call_transcript_fragments
		WHERE family_id = $1 AND session_id = $2 AND is_final
		ORDER BY speaker_id, sequence_no`,
		familyID, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Fragment
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.FragmentID, &f.FamilyID, &f.SessionID, &f.SpeakerID,
			&f.SequenceNo, &f.Text, &f.Confidence, &f.IsFinal, &f.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
