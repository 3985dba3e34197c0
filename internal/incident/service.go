package incident

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"coparent-platform/internal/notify"
	"coparent-platform/internal/session"

	"github.com/google/uuid"
)

var (
	ErrInvalidIncident    = errors.New("incident: invalid incident")
	ErrDuplicateIncident  = errors.New("incident: duplicate incident")
	ErrNotParticipant     = errors.New("incident: reporter is not a participant")
	ErrReportWindowClosed = errors.New("incident: report window has closed")
)

// Repository is the persistence contract for the incident ledger.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
// Append returns ErrDuplicateIncident when an auto flag for the same
// (session_id, fragment_id) already exists.
type Repository interface {
	Append(ctx context.Context, inc Incident) error
	List(ctx context.Context, familyID, sessionID string) ([]Incident, error)
}

// SessionSource provides the consistent session read used for participant and
// grace-window checks. Implemented by *session.Manager.
type SessionSource interface {
	Snapshot(ctx context.Context, familyID, sessionID string) (session.Session, error)
}

// Deduper suppresses identical manual-report retries within a short window.
// A Redis SET NX implementation is used in production; tests use Memory.
type Deduper interface {
	// FirstSeen returns true when the key has not been seen within the ttl.
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Config carries the incident timing knobs.
type Config struct {
	// ReportGraceWindow allows manual reports shortly after a session ends.
	ReportGraceWindow time.Duration
	// DedupWindow is how long an identical manual retry is treated as a duplicate.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.ReportGraceWindow <= 0 {
		out.ReportGraceWindow = 2 * time.Minute
	}
	if out.DedupWindow <= 0 {
		out.DedupWindow = 30 * time.Second
	}
	return out
}

// Service writes the incident ledger.
//
// Auto flags are recorded regardless of session state: the evaluator drains
// fragments that were queued before end, and their flags must not be lost.
// Manual reports are gated on the live state plus the grace window.
type Service struct {
	repo     Repository
	sessions SessionSource
	dedup    Deduper
	notifier notify.Notifier
	cfg      Config
	clock    func() time.Time
}

func NewService(repo Repository, sessions SessionSource, dedup Deduper, notifier notify.Notifier, cfg Config) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		dedup:    dedup,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

// RecordAutoFlag appends an evaluator flag keyed by fragment id.
// Retried evaluations of the same fragment surface ErrDuplicateIncident,
// which callers treat as success.
func (s *Service) RecordAutoFlag(ctx context.Context, familyID, sessionID, fragmentID, reason, evidence string, confidence float64) (Incident, error) {
	if familyID == "" || sessionID == "" || fragmentID == "" || reason == "" {
		return Incident{}, ErrInvalidIncident
	}

	now := s.clock().UTC()
	inc := Incident{
		ID:           uuid.NewString(),
		FamilyID:     familyID,
		SessionID:    sessionID,
		Kind:         KindAutoFlagged,
		FragmentID:   fragmentID,
		Reason:       reason,
		EvidenceText: evidence,
		Confidence:   confidence,
		DetectedAt:   now,
	}
	if err := s.repo.Append(ctx, inc); err != nil {
		return Incident{}, err
	}

	_ = s.notifier.Publish(ctx, notify.Event{
		Type:       notify.EventIncidentRecorded,
		FamilyID:   familyID,
		SessionID:  sessionID,
		Metadata:   `{"kind":"auto_flagged"}`,
		OccurredAt: now,
	})
	return inc, nil
}

type ManualReportRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// RecordManualReport appends a participant-filed report. Accepted while the
// session is live and for a grace window after it ends, so a participant who
// just hung up can still document the ending moments.
func (s *Service) RecordManualReport(ctx context.Context, familyID, sessionID, reporterID string, req ManualReportRequest) (Incident, error) {
	if familyID == "" || sessionID == "" || reporterID == "" || req.Reason == "" {
		return Incident{}, ErrInvalidIncident
	}

	sess, err := s.sessions.Snapshot(ctx, familyID, sessionID)
	if err != nil {
		return Incident{}, err
	}
	if !sess.HasParticipant(reporterID) {
		return Incident{}, ErrNotParticipant
	}

	now := s.clock().UTC()
	switch sess.State {
	case session.StateLive:
		// always reportable
	case session.StateEnded:
		if sess.EndedAt == nil || now.After(sess.EndedAt.Add(s.cfg.ReportGraceWindow)) {
			return Incident{}, ErrReportWindowClosed
		}
	default:
		return Incident{}, ErrReportWindowClosed
	}

	if s.dedup != nil {
		first, err := s.dedup.FirstSeen(ctx, manualDedupKey(sessionID, reporterID, req), s.cfg.DedupWindow)
		if err == nil && !first {
			return Incident{}, ErrDuplicateIncident
		}
		// Dedup failures are not fatal; an occasional double report is
		// preferable to losing one.
	}

	inc := Incident{
		ID:           uuid.NewString(),
		FamilyID:     familyID,
		SessionID:    sessionID,
		Kind:         KindManualReport,
		ReporterID:   reporterID,
		Reason:       req.Reason,
		EvidenceText: req.Description,
		DetectedAt:   now,
	}
	if err := s.repo.Append(ctx, inc); err != nil {
		return Incident{}, err
	}

	_ = s.notifier.Publish(ctx, notify.Event{
		Type:        notify.EventIncidentRecorded,
		FamilyID:    familyID,
		SessionID:   sessionID,
		ActorUserID: reporterID,
		Metadata:    `{"kind":"manual_report"}`,
		OccurredAt:  now,
	})
	return inc, nil
}

// List returns the session's ledger in insertion order.
func (s *Service) List(ctx context.Context, familyID, sessionID string) ([]Incident, error) {
	if familyID == "" || sessionID == "" {
		return nil, ErrInvalidIncident
	}
	return s.repo.List(ctx, familyID, sessionID)
}

func manualDedupKey(sessionID, reporterID string, req ManualReportRequest) string {
	h := sha256.Sum256([]byte(sessionID + "\x00" + reporterID + "\x00" + req.Reason + "\x00" + req.Description))
	return "incident:dedup:" + hex.EncodeToString(h[:])
}
