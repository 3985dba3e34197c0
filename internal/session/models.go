package session

import "time"

// Session is the authoritative record of one accountable call.
//
// Invariants:
// - FamilyID is required on every row (tenancy isolation).
// - A session is jointly owned by both participants; neither may delete it.
//   Ended and expired sessions stay queryable forever (soft-terminal).
// - State transitions are linearized per session by the Manager; the repo
//   never sees concurrent writes for the same id.

type Session struct {
	ID           string `json:"id" db:"id"`
	InvitationID string `json:"invitation_id" db:"invitation_id"`
	FamilyID     string `json:"family_id" db:"family_id"`

	Caller    Participant `json:"caller"`
	Recipient Participant `json:"recipient"`

	State State `json:"state" db:"state"`

	// ScheduledStart/ScheduledEnd are denormalized from the invitation so the
	// join window and expiry checks need no cross-table lookup.
	ScheduledStart time.Time `json:"scheduled_start" db:"scheduled_start"`
	ScheduledEnd   time.Time `json:"scheduled_end" db:"scheduled_end"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	EndReason EndReason  `json:"end_reason,omitempty" db:"end_reason"`
	EndedBy   string     `json:"ended_by,omitempty" db:"ended_by"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Participant tracks one party's join status.
type Participant struct {
	UserID   string     `json:"user_id" db:"user_id"`
	Joined   bool       `json:"joined" db:"joined"`
	JoinedAt *time.Time `json:"joined_at,omitempty" db:"joined_at"`
}

type State string

const (
	// StateAccepted: invitation accepted, nobody has joined yet.
	StateAccepted State = "accepted"
	// StateAwaitingJoin: one participant has joined, waiting for the other.
	StateAwaitingJoin State = "awaiting_join"
	// StateLive: both participants joined; transcription is accepted.
	StateLive State = "live"
	// StateEnded: terminal. Set exactly once by the first End call.
	StateEnded State = "ended"
	// StateExpired: terminal. The session never went live within its window.
	StateExpired State = "expired"
)

func (s State) Terminal() bool { return s == StateEnded || s == StateExpired }

type EndReason string

const (
	EndReasonNormal       EndReason = "normal"
	EndReasonDisconnect   EndReason = "disconnect"
	EndReasonManualReport EndReason = "manual_report"
	EndReasonTimeout      EndReason = "timeout"
)

func ValidEndReason(r EndReason) bool {
	switch r {
	case EndReasonNormal, EndReasonDisconnect, EndReasonManualReport, EndReasonTimeout:
		return true
	default:
		return false
	}
}

// HasParticipant reports whether the user is one of the two parties.
func (s Session) HasParticipant(userID string) bool {
	return s.Caller.UserID == userID || s.Recipient.UserID == userID
}
