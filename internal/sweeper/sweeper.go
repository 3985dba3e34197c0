package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"coparent-platform/internal/analysis"
)

// InvitationExpirer expires pending invitations past their proposed time.
// Implemented by *scheduling.Service.
type InvitationExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// SessionExpirer expires sessions that were never joined.
// Implemented by *session.Manager.
type SessionExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// AnalysisComputer builds post-call analyses. Implemented by
// *analysis.Service.
type AnalysisComputer interface {
	Compute(ctx context.Context, familyID, sessionID string) (analysis.CallAnalysis, error)
}

// Sweeper runs the periodic maintenance pass: stale invitations, stale
// sessions, and analyses for recently ended calls.
//
// Ended sessions are queued in memory via OnSessionEnded. A restart loses the
// queue, but analyses are also computed lazily on first fetch, so nothing is
// permanently missed.
type Sweeper struct {
	invitations InvitationExpirer
	sessions    SessionExpirer
	analyses    AnalysisComputer
	log         *slog.Logger

	cron    *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]string // session id -> family id
}

func New(invitations InvitationExpirer, sessions SessionExpirer, analyses AnalysisComputer, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		invitations: invitations,
		sessions:    sessions,
		analyses:    analyses,
		log:         log,
		cron:        cron.New(),
		timeout:     30 * time.Second,
		pending:     map[string]string{},
	}
}

// OnSessionEnded queues a session for analysis on a later sweep. Matches the
// session.Manager OnEnded hook signature.
func (s *Sweeper) OnSessionEnded(familyID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = familyID
}

// Start schedules the sweep every 30 seconds and returns immediately.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@every 30s", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce executes a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if n, err := s.invitations.ExpireStale(ctx); err != nil {
		s.log.Error("invitation expiry sweep failed", "error", err)
	} else if n > 0 {
		s.log.Info("expired stale invitations", "count", n)
	}

	if n, err := s.sessions.ExpireStale(ctx); err != nil {
		s.log.Error("session expiry sweep failed", "error", err)
	} else if n > 0 {
		s.log.Info("expired stale sessions", "count", n)
	}

	for sessionID, familyID := range s.snapshotPending() {
		_, err := s.analyses.Compute(ctx, familyID, sessionID)
		switch {
		case err == nil:
			s.forget(sessionID)
			s.log.Info("analysis computed", "session_id", sessionID)
		case errors.Is(err, analysis.ErrNotReady):
			// Settle delay not elapsed yet; retry next sweep.
		default:
			s.forget(sessionID)
			s.log.Error("analysis sweep failed", "session_id", sessionID, "error", err)
		}
	}
}

func (s *Sweeper) snapshotPending() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.pending))
	for k, v := range s.pending {
		out[k] = v
	}
	return out
}

func (s *Sweeper) forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
}
