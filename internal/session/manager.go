package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"coparent-platform/internal/notify"
	"coparent-platform/internal/scheduling"

	"github.com/google/uuid"
)

var (
	ErrNotFound               = errors.New("session: not found")
	ErrInvalidArgument        = errors.New("session: invalid argument")
	ErrNotParticipant         = errors.New("session: user is not a participant")
	ErrInvalidStateTransition = errors.New("session: invalid state transition")
	ErrJoinWindowNotOpen      = errors.New("session: join window not open yet")
	ErrJoinWindowClosed       = errors.New("session: join window has closed")
	ErrLiveCapReached         = errors.New("session: family live call cap reached")
)

// Repository is the persistence contract for sessions.
//
// The Manager serializes all writes per session id, so implementations do not
// need their own per-row concurrency control for Update.
type Repository interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, familyID, id string) (Session, error)
	Update(ctx context.Context, s Session) error
	ListForUser(ctx context.Context, familyID, userID string) ([]Session, error)

	// ListStale returns non-terminal sessions whose scheduled end is before
	// the cutoff. Used by the expiry sweeper; not family-scoped by design.
	ListStale(ctx context.Context, cutoff time.Time) ([]Session, error)
}

// Config carries the session timing knobs (see config.CallConfig).
type Config struct {
	// JoinLeadTime is how early a participant may join before scheduled start.
	JoinLeadTime time.Duration
	// ExpirySlack is added to the scheduled end before a never-live session expires.
	ExpirySlack time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.JoinLeadTime <= 0 {
		out.JoinLeadTime = 5 * time.Minute
	}
	if out.ExpirySlack <= 0 {
		out.ExpirySlack = 5 * time.Minute
	}
	return out
}

// Manager owns the session state machine.
//
// Concurrency contract: Join and End are linearizable per session via an arena
// of per-session locks. Operations on different sessions run fully in parallel.
type Manager struct {
	repo     Repository
	notifier notify.Notifier
	cfg      Config
	clock    func() time.Time

	// OnEnded is invoked after a session transitions to ended, outside the
	// session lock. Wiring uses it to stop transcript ingestion.
	OnEnded func(familyID, sessionID string)

	// Gate, when set, caps concurrently live calls per family. Acquired on
	// the live transition and released on end.
	Gate LiveGate

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(repo Repository, notifier notify.Notifier, cfg Config) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		locks:    map[string]*sync.Mutex{},
	}
}

// lockFor returns the exclusive lock for one session id.
// Locks are never removed; a finished session's lock is a few bytes and the
// arena is bounded by the number of sessions this process has touched.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// CreateForInvitation creates a session in the accepted state.
// Implements scheduling.SessionCreator.
func (m *Manager) CreateForInvitation(ctx context.Context, inv scheduling.Invitation) (string, error) {
	if inv.ID == "" || inv.FamilyID == "" || inv.CallerID == "" || inv.RecipientID == "" {
		return "", ErrInvalidArgument
	}

	s := Session{
		ID:             uuid.NewString(),
		InvitationID:   inv.ID,
		FamilyID:       inv.FamilyID,
		Caller:         Participant{UserID: inv.CallerID},
		Recipient:      Participant{UserID: inv.RecipientID},
		State:          StateAccepted,
		ScheduledStart: inv.ProposedTime,
		ScheduledEnd:   inv.ScheduledEnd(),
		CreatedAt:      m.clock().UTC(),
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return "", err
	}
	return s.ID, nil
}

type JoinResult struct {
	Session Session `json:"session"`

	// Started is true only for the call that flipped the session to live,
	// so start side effects fire exactly once.
	Started bool `json:"started"`

	// WaitingForPeer is true when the caller joined but the other party has not.
	WaitingForPeer bool `json:"waiting_for_peer"`
}

// Join records a participant's arrival. Idempotent per participant: joining
// twice does not re-trigger the live transition.
func (m *Manager) Join(ctx context.Context, familyID, sessionID, userID string) (JoinResult, error) {
	if familyID == "" || sessionID == "" || userID == "" {
		return JoinResult{}, ErrInvalidArgument
	}

	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.repo.Get(ctx, familyID, sessionID)
	if err != nil {
		return JoinResult{}, err
	}
	if !s.HasParticipant(userID) {
		return JoinResult{}, ErrNotParticipant
	}

	switch s.State {
	case StateAccepted, StateAwaitingJoin:
		// joinable
	case StateLive:
		// Rejoining a live call (e.g. after a page reload) is a no-op.
		return JoinResult{Session: s}, nil
	default:
		return JoinResult{}, ErrInvalidStateTransition
	}

	now := m.clock().UTC()
	if now.Before(s.ScheduledStart.Add(-m.cfg.JoinLeadTime)) {
		return JoinResult{}, ErrJoinWindowNotOpen
	}
	if now.After(s.ScheduledEnd) {
		return JoinResult{}, ErrJoinWindowClosed
	}

	mark := func(p *Participant) {
		if !p.Joined {
			p.Joined = true
			t := now
			p.JoinedAt = &t
		}
	}
	if s.Caller.UserID == userID {
		mark(&s.Caller)
	} else {
		mark(&s.Recipient)
	}

	out := JoinResult{}
	if s.Caller.Joined && s.Recipient.Joined {
		if m.Gate != nil {
			ok, err := m.Gate.Acquire(ctx, familyID)
			if err != nil {
				return JoinResult{}, err
			}
			if !ok {
				return JoinResult{}, ErrLiveCapReached
			}
		}
		s.State = StateLive
		t := now
		s.StartedAt = &t
		out.Started = true
	} else {
		s.State = StateAwaitingJoin
		out.WaitingForPeer = true
	}

	if err := m.repo.Update(ctx, s); err != nil {
		if out.Started && m.Gate != nil {
			_ = m.Gate.Release(ctx, familyID)
		}
		return JoinResult{}, err
	}
	out.Session = s

	if out.Started {
		_ = m.notifier.Publish(ctx, notify.Event{
			Type:        notify.EventSessionStarted,
			FamilyID:    familyID,
			SessionID:   sessionID,
			ActorUserID: userID,
			OccurredAt:  now,
		})
	}
	return out, nil
}

type EndResult struct {
	Session Session `json:"session"`

	// AlreadyEnded is true when a prior End call won; the first caller's
	// reason and timestamp are returned unchanged.
	AlreadyEnded bool `json:"already_ended"`
}

// End terminates a live session. Exactly-once: the first caller's reason wins
// and later calls observe the recorded outcome.
func (m *Manager) End(ctx context.Context, familyID, sessionID, userID string, reason EndReason) (EndResult, error) {
	if familyID == "" || sessionID == "" || userID == "" {
		return EndResult{}, ErrInvalidArgument
	}
	if !ValidEndReason(reason) {
		return EndResult{}, ErrInvalidArgument
	}

	l := m.lockFor(sessionID)
	l.Lock()

	s, err := m.repo.Get(ctx, familyID, sessionID)
	if err != nil {
		l.Unlock()
		return EndResult{}, err
	}
	if !s.HasParticipant(userID) {
		l.Unlock()
		return EndResult{}, ErrNotParticipant
	}

	if s.State == StateEnded {
		l.Unlock()
		return EndResult{Session: s, AlreadyEnded: true}, nil
	}
	if s.State != StateLive {
		l.Unlock()
		return EndResult{}, ErrInvalidStateTransition
	}

	now := m.clock().UTC()
	s.State = StateEnded
	t := now
	s.EndedAt = &t
	s.EndReason = reason
	s.EndedBy = userID

	if err := m.repo.Update(ctx, s); err != nil {
		l.Unlock()
		return EndResult{}, err
	}
	l.Unlock()

	// Outside the lock: release the cap slot, stop ingestion, notify.
	// In-flight evaluation for already-queued fragments is allowed to drain.
	if m.Gate != nil {
		_ = m.Gate.Release(ctx, familyID)
	}
	if m.OnEnded != nil {
		m.OnEnded(familyID, sessionID)
	}
	_ = m.notifier.Publish(ctx, notify.Event{
		Type:        notify.EventSessionEnded,
		FamilyID:    familyID,
		SessionID:   sessionID,
		ActorUserID: userID,
		Metadata:    `{"reason":"` + string(reason) + `"}`,
		OccurredAt:  now,
	})
	return EndResult{Session: s}, nil
}

// Get returns the session. Works for terminal sessions too.
func (m *Manager) Get(ctx context.Context, familyID, sessionID string) (Session, error) {
	if familyID == "" || sessionID == "" {
		return Session{}, ErrInvalidArgument
	}
	return m.repo.Get(ctx, familyID, sessionID)
}

// Snapshot is Get under the session lock, for callers that need a consistent
// read alongside the state machine (incident grace-window checks).
func (m *Manager) Snapshot(ctx context.Context, familyID, sessionID string) (Session, error) {
	if familyID == "" || sessionID == "" {
		return Session{}, ErrInvalidArgument
	}
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()
	return m.repo.Get(ctx, familyID, sessionID)
}

// IsLive reports whether ingestion should accept fragments for the session.
func (m *Manager) IsLive(ctx context.Context, familyID, sessionID string) (bool, error) {
	s, err := m.repo.Get(ctx, familyID, sessionID)
	if err != nil {
		return false, err
	}
	return s.State == StateLive, nil
}

// History lists the user's sessions, newest first.
func (m *Manager) History(ctx context.Context, familyID, userID string) ([]Session, error) {
	if familyID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}
	return m.repo.ListForUser(ctx, familyID, userID)
}

// ExpireStale transitions sessions that never went live to expired once their
// window plus slack has passed. Returns the number expired.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	now := m.clock().UTC()
	stale, err := m.repo.ListStale(ctx, now.Add(-m.cfg.ExpirySlack))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, s := range stale {
		l := m.lockFor(s.ID)
		l.Lock()
		cur, err := m.repo.Get(ctx, s.FamilyID, s.ID)
		if err != nil {
			l.Unlock()
			return expired, err
		}
		// Re-check under the lock: a join may have raced the sweep.
		if cur.State != StateAccepted && cur.State != StateAwaitingJoin {
			l.Unlock()
			continue
		}
		cur.State = StateExpired
		if err := m.repo.Update(ctx, cur); err != nil {
			l.Unlock()
			return expired, err
		}
		l.Unlock()
		expired++
	}
	return expired, nil
}
