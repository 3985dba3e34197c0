package scheduling

import "time"

// Invitation is a proposed call between two co-parents.
//
// Invariants:
// - FamilyID is required on every row (tenancy isolation).
// - Status transitions one way: pending -> accepted | rejected | expired.
//   Accepted/rejected/expired rows are never mutated again.
// - Only the recipient may accept or reject; expiry is time-based.

type Invitation struct {
	ID       string `json:"id" db:"id"`
	FamilyID string `json:"family_id" db:"family_id"`

	CallerID    string `json:"caller_id" db:"caller_id"`
	RecipientID string `json:"recipient_id" db:"recipient_id"`

	ProposedTime    time.Time `json:"proposed_time" db:"proposed_time"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	Notes           string    `json:"notes,omitempty" db:"notes"`

	Status InvitationStatus `json:"status" db:"status"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty" db:"responded_at"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	InvitationExpired  InvitationStatus = "expired"
)

// ScheduledEnd is the end of the proposed call window.
func (i Invitation) ScheduledEnd() time.Time {
	return i.ProposedTime.Add(time.Duration(i.DurationMinutes) * time.Minute)
}
