package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to family members by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.FamilyID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogLedgerAccess records an oversight read of a family's incident ledger
// (including hidden roles).
func (s *Service) LogLedgerAccess(ctx context.Context, familyID, actorUserID, actorRole, ip, sessionID string) error {
	return s.Append(ctx, Event{
		FamilyID:    familyID,
		Type:        EventTypeLedgerAccess,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		SessionID:   sessionID,
		Message:     "incident ledger read",
	})
}

// LogForcedEnd records a super_admin ending a call on a participant's behalf.
func (s *Service) LogForcedEnd(ctx context.Context, familyID, actorUserID, actorRole, ip, sessionID, metadata string) error {
	return s.Append(ctx, Event{
		FamilyID:    familyID,
		Type:        EventTypeForcedEnd,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		SessionID:   sessionID,
		Message:     "call ended by administrator",
		Metadata:    metadata,
	})
}
