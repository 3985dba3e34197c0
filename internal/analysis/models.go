package analysis

import "time"

// CallAnalysis is the post-call summary for a session. One row per session,
// computed after the call ends and its transcript pipeline settles.
type CallAnalysis struct {
	SessionID       string   `json:"session_id"`
	FamilyID        string   `json:"family_id"`
	Summary         string   `json:"summary"`
	SafetyScore     int      `json:"safety_score"`
	IncidentCount   int      `json:"incident_count"`
	Recommendations []string `json:"recommendations"`
	// Incomplete marks analyses whose transcript was only partially
	// evaluated, so the score may understate what happened.
	Incomplete bool      `json:"incomplete"`
	ComputedAt time.Time `json:"computed_at"`
}
