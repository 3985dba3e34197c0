package scheduling

import (
	"context"
	"errors"
	"time"

	"coparent-platform/internal/notify"

	"github.com/google/uuid"
)

const (
	minDurationMinutes = 5
	maxDurationMinutes = 60
)

var (
	ErrNotFound         = errors.New("scheduling: invitation not found")
	ErrInvalidArgument  = errors.New("scheduling: invalid argument")
	ErrNotRecipient     = errors.New("scheduling: only the recipient may respond")
	ErrAlreadyResponded = errors.New("scheduling: invitation already responded to")
)

// Repository is the persistence contract for invitations.
//
// Status transitions must be guarded: UpdateStatus only succeeds when the row
// is still in the expected prior status (compare-and-set), so concurrent
// responses cannot both win.
type Repository interface {
	Create(ctx context.Context, inv Invitation) error
	Get(ctx context.Context, familyID, id string) (Invitation, error)
	ListByStatus(ctx context.Context, familyID, userID string, status InvitationStatus) ([]Invitation, error)
	ListForUser(ctx context.Context, familyID, userID string) ([]Invitation, error)
	UpdateStatus(ctx context.Context, familyID, id string, from, to InvitationStatus, respondedAt time.Time) (bool, error)

	// ListPendingBefore returns pending invitations whose proposed time has passed.
	// Used by the expiry sweeper; not family-scoped by design.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Invitation, error)
}

// SessionCreator is implemented by the session package. Keeping it as a small
// interface here avoids a dependency from scheduling onto session internals.
type SessionCreator interface {
	CreateForInvitation(ctx context.Context, inv Invitation) (sessionID string, err error)
}

// Service owns the invitation lifecycle and hands accepted invitations to the
// session subsystem.
type Service struct {
	repo     Repository
	sessions SessionCreator
	notifier notify.Notifier
	clock    func() time.Time
}

func NewService(repo Repository, sessions SessionCreator, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{repo: repo, sessions: sessions, notifier: notifier, clock: time.Now}
}

type ScheduleRequest struct {
	RecipientID     string    `json:"recipient_id"`
	ProposedTime    time.Time `json:"proposed_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes,omitempty"`
}

// Schedule creates a pending invitation from the caller.
func (s *Service) Schedule(ctx context.Context, familyID, callerID string, req ScheduleRequest) (Invitation, error) {
	if familyID == "" || callerID == "" || req.RecipientID == "" {
		return Invitation{}, ErrInvalidArgument
	}
	if callerID == req.RecipientID {
		return Invitation{}, ErrInvalidArgument
	}
	if req.DurationMinutes < minDurationMinutes || req.DurationMinutes > maxDurationMinutes {
		return Invitation{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	if !req.ProposedTime.After(now) {
		return Invitation{}, ErrInvalidArgument
	}

	inv := Invitation{
		ID:              uuid.NewString(),
		FamilyID:        familyID,
		CallerID:        callerID,
		RecipientID:     req.RecipientID,
		ProposedTime:    req.ProposedTime.UTC(),
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
		Status:          InvitationPending,
		CreatedAt:       now,
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return Invitation{}, err
	}

	_ = s.notifier.Publish(ctx, notify.Event{
		Type:         notify.EventInvitationCreated,
		FamilyID:     familyID,
		InvitationID: inv.ID,
		ActorUserID:  callerID,
		OccurredAt:   now,
	})
	return inv, nil
}

type RespondResult struct {
	Invitation Invitation `json:"invitation"`
	// SessionID is set when the invitation was accepted and a session created.
	SessionID string `json:"session_id,omitempty"`
}

// Respond applies the recipient's accept or reject decision.
// Accepting creates the call session in its initial accepted state.
func (s *Service) Respond(ctx context.Context, familyID, userID, invitationID string, accept bool) (RespondResult, error) {
	if familyID == "" || userID == "" || invitationID == "" {
		return RespondResult{}, ErrInvalidArgument
	}

	inv, err := s.repo.Get(ctx, familyID, invitationID)
	if err != nil {
		return RespondResult{}, err
	}
	if inv.RecipientID != userID {
		return RespondResult{}, ErrNotRecipient
	}
	if inv.Status != InvitationPending {
		return RespondResult{}, ErrAlreadyResponded
	}

	now := s.clock().UTC()
	to := InvitationRejected
	eventType := notify.EventInvitationRejected
	if accept {
		to = InvitationAccepted
		eventType = notify.EventInvitationAccepted
	}

	ok, err := s.repo.UpdateStatus(ctx, familyID, invitationID, InvitationPending, to, now)
	if err != nil {
		return RespondResult{}, err
	}
	if !ok {
		// Lost the race to a concurrent response or expiry.
		return RespondResult{}, ErrAlreadyResponded
	}

	inv.Status = to
	inv.RespondedAt = &now

	out := RespondResult{Invitation: inv}
	if accept && s.sessions != nil {
		sid, err := s.sessions.CreateForInvitation(ctx, inv)
		if err != nil {
			return RespondResult{}, err
		}
		out.SessionID = sid
	}

	_ = s.notifier.Publish(ctx, notify.Event{
		Type:         eventType,
		FamilyID:     familyID,
		InvitationID: inv.ID,
		SessionID:    out.SessionID,
		ActorUserID:  userID,
		OccurredAt:   now,
	})
	return out, nil
}

// ListPending returns invitations awaiting the given user's response.
func (s *Service) ListPending(ctx context.Context, familyID, userID string) ([]Invitation, error) {
	if familyID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.ListByStatus(ctx, familyID, userID, InvitationPending)
}

// ListForUser returns all invitations the user is party to, newest first.
func (s *Service) ListForUser(ctx context.Context, familyID, userID string) ([]Invitation, error) {
	if familyID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.ListForUser(ctx, familyID, userID)
}

// ExpireStale marks pending invitations whose proposed time has passed.
// Returns the number of invitations expired. Called from the sweeper.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	stale, err := s.repo.ListPendingBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, inv := range stale {
		ok, err := s.repo.UpdateStatus(ctx, inv.FamilyID, inv.ID, InvitationPending, InvitationExpired, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}
