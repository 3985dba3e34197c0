package incident

import "time"

// Incident is an immutable, append-only safety record tied to a session.
//
// Invariants:
// - Incidents are never updated or deleted.
// - family_id is required for tenancy isolation.
// - Auto flags carry the fragment id that produced them; at most one auto
//   flag may exist per (session_id, fragment_id).
// - Manual reports always get a fresh id; the reporter is one of the two
//   session participants.
//
// Storage recommendation (Postgres):
// - Table call_incidents with an INSERT-only policy.
// - UNIQUE (session_id, fragment_id) WHERE kind = 'auto_flagged'.

type Incident struct {
	ID       string `json:"id" db:"id"`
	FamilyID string `json:"family_id" db:"family_id"`

	SessionID string `json:"session_id" db:"session_id"`

	Kind Kind `json:"kind" db:"kind"`

	// ReporterID is the reporting participant; empty for auto flags.
	ReporterID string `json:"reporter_id,omitempty" db:"reporter_id"`

	// FragmentID is the transcript fragment that triggered an auto flag;
	// empty for manual reports.
	FragmentID string `json:"fragment_id,omitempty" db:"fragment_id"`

	Reason       string `json:"reason" db:"reason"`
	EvidenceText string `json:"evidence_text,omitempty" db:"evidence_text"`

	// Confidence is the classifier confidence for auto flags (0 for manual).
	Confidence float64 `json:"confidence,omitempty" db:"confidence"`

	DetectedAt time.Time `json:"detected_at" db:"detected_at"`
}

type Kind string

const (
	KindAutoFlagged  Kind = "auto_flagged"
	KindManualReport Kind = "manual_report"
)
