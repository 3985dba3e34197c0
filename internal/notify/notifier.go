package notify

import (
	"context"
	"time"
)

// Event is an outbound notification for downstream consumers (email, UI push).
//
// Delivery is best-effort: the call path must never block or fail because a
// notification could not be published.

type Event struct {
	Type EventType `json:"type"`

	FamilyID     string `json:"family_id"`
	SessionID    string `json:"session_id,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`

	// ActorUserID is the participant whose action produced the event (if any).
	ActorUserID string `json:"actor_user_id,omitempty"`

	// Metadata is optional JSON for consumer-specific details.
	Metadata string `json:"metadata,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

type EventType string

const (
	EventInvitationCreated  EventType = "invitation_created"
	EventInvitationAccepted EventType = "invitation_accepted"
	EventInvitationRejected EventType = "invitation_rejected"
	EventSessionStarted     EventType = "session_started"
	EventSessionEnded       EventType = "session_ended"
	EventIncidentRecorded   EventType = "incident_recorded"
	EventAnalysisReady      EventType = "analysis_ready"
)

// Notifier publishes events to the notification boundary.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards all events. Useful when notifications are not wired.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
