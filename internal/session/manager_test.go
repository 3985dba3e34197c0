package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"coparent-platform/internal/notify"
	"coparent-platform/internal/scheduling"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, clk *testClock) (*Manager, *notify.Memory, string) {
	t.Helper()
	repo := NewMemoryRepo()
	notifier := notify.NewMemory()
	m := NewManager(repo, notifier, Config{})
	m.clock = clk.Now

	inv := scheduling.Invitation{
		ID:              "inv-1",
		FamilyID:        "fam",
		CallerID:        "caller",
		RecipientID:     "recipient",
		ProposedTime:    clk.Now(),
		DurationMinutes: 30,
		Status:          scheduling.InvitationAccepted,
	}
	sid, err := m.CreateForInvitation(context.Background(), inv)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return m, notifier, sid
}

// Scenario: caller joins at T0+1m, recipient at T0+2m; session goes live at
// T0+2m exactly once.
func TestJoin_SecondJoinerStartsSessionOnce(t *testing.T) {
	clk := newTestClock(time.Unix(1700000000, 0).UTC())
	m, notifier, sid := newTestManager(t, clk)

	clk.Advance(time.Minute)
	r1, err := m.Join(context.Background(), "fam", sid, "caller")
	if err != nil {
		t.Fatalf("caller join: %v", err)
	}
	if r1.Started || !r1.WaitingForPeer {
		t.Fatalf("expected waiting, got %+v", r1)
	}
	if r1.Session.State != StateAwaitingJoin {
		t.Fatalf("expected awaiting_join, got %s", r1.Session.State)
	}

	clk.Advance(time.Minute)
	r2, err := m.Join(context.Background(), "fam", sid, "recipient")
	if err != nil {
		t.Fatalf("recipient join: %v", err)
	}
	if !r2.Started {
		t.Fatalf("expected second joiner to start the session")
	}
	if r2.Session.State != StateLive || r2.Session.StartedAt == nil {
		t.Fatalf("expected live with started_at, got %+v", r2.Session)
	}
	if !r2.Session.StartedAt.Equal(clk.Now()) {
		t.Fatalf("started_at should be second join time")
	}
	if got := notifier.ByType(notify.EventSessionStarted); len(got) != 1 {
		t.Fatalf("expected exactly one session_started event, got %d", len(got))
	}
}

func TestJoin_SameParticipantTwiceIsIdempotent(t *testing.T) {
	clk := newTestClock(time.Unix(1700000000, 0).UTC())
	m, notifier, sid := newTestManager(t, clk)

	if _, err := m.Join(context.Background(), "fam", sid, "caller"); err != nil {
		t.Fatalf("join: %v", err)
	}
	r, err := m.Join(context.Background(), "fam", sid, "caller")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if r.Started {
		t.Fatalf("rejoin must not start the session")
	}
	if r.Session.State != StateAwaitingJoin {
		t.Fatalf("expected awaiting_join, got %s", r.Session.State)
	}
	if len(notifier.ByType(notify.EventSessionStarted)) != 0 {
		t.Fatalf("no start event expected")
	}
}

func TestJoin_WindowEnforced(t *testing.T) {
	clk := newTestClock(time.Unix(1700000000, 0).UTC())
	repo := NewMemoryRepo()
	m := NewManager(repo, nil, Config{})
	m.clock = clk.Now

	inv := scheduling.Invitation{
		ID: "inv-1", FamilyID: "fam", CallerID: "caller", RecipientID: "recipient",
		ProposedTime: clk.Now().Add(time.Hour), DurationMinutes: 30,
	}
	sid, _ := m.CreateForInvitation(context.Background(), inv)

	if _, err := m.Join(context.Background(), "fam", sid, "caller"); err != ErrJoinWindowNotOpen {
		t.Fatalf("expected ErrJoinWindowNotOpen, got %v", err)
	}

	// 5 minutes before start is allowed.
	clk.Advance(56 * time.Minute)
	if _, err := m.Join(context.Background(), "fam", sid, "caller"); err != nil {
		t.Fatalf("join 4m early: %v", err)
	}

	// Past scheduled end is not.
	clk.Advance(40 * time.Minute)
	if _, err := m.Join(context.Background(), "fam", sid, "recipient"); err != ErrJoinWindowClosed {
		t.Fatalf("expected ErrJoinWindowClosed, got %v", err)
	}
}

func TestJoin_RejectsOutsiders(t *testing.T) {
	clk := newTestClock(time.Unix(1700000000, 0).UTC())
	m, _, sid := newTestManager(t, clk)

	if _, err := m.Join(context.Background(), "fam", sid, "stranger"); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func goLive(t *testing.T, m *Manager, sid string) {
	t.Helper()
	if _, err := m.Join(context.Background(), "fam", sid, "caller"); err != nil {
		t.Fatalf("caller join: %v", err)
	}
	r, err := m.Join(context.Background(), "fam", sid, "recipient")
	if err != nil || !r.Started {
		t.Fatalf("recipient join: started=%v err=%v", r.Started, err)
	}
}

func TestEnd_FirstWriterWins(t *testing.T) {
	clk := newTestClock(time.Unix(1700000000, 0).UTC())
	m, notifier, sid := newTestManager(t, clk)
	goLive(t, m, sid)

	var endedSessions []string
	m.OnEnded = func(_, id string) { endedSessions = append(endedSessions, id) }

	clk.Advance(10 * time.Minute)
	r1, err := m.End(context.Background(), "fam", sid, "caller", EndReasonNormal)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if r1.AlreadyEnded {
		t.Fatalf("first end must not report already_ended")
	}
	firstEndedAt := *r1.Session.EndedAt

	clk.Advance(time.Minute)
	r2, err := m.End(context.Background(), "fam", sid, "recipient", EndReasonDisconnect)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if !r2.AlreadyEnded {
		t.Fatalf("second end must observe the ended state")
	}
	if r2.Session.EndReason != EndReasonNormal {
		t.Fatalf("first caller's reason must win, got %s", r2.Session.EndReason)
	}
	if !r2.Session.EndedAt.Equal(firstEndedAt) {
		t.Fatalf("ended_at must not move")
	}
	if len(endedSessions) != 1 {
		t.Fatalf("OnEnded must fire once, got %d", len(endedSessions))
	}
	if got := notifier.ByType(notify.EventSessionEnded); len(got) != 1 {
		t.Fatalf("expected one session_ended event, got %d", len(got))
	}
}

func TestEnd_RequiresLive(t *testing.T) {
	clk := newTestClock(time.Unix(1700000000, 0).UTC())
	m, _, sid := newTestManager(t, clk)

	if _, err := m.End(context.Background(), "fam", sid, "caller", EndReasonNormal); err != ErrInvalidStateTransition {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

// Scenario: recipient never joins within grace period; session expires and
// live is never reached.
func TestExpireStale_NeverLiveSessionExpires(t *testing.T) {
	clk := newTestClock(time.Unix(1700000000, 0).UTC())
	m, _, sid := newTestManager(t, clk)

	if _, err := m.Join(context.Background(), "fam", sid, "caller"); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Scheduled 30m duration + 5m slack; not yet stale at 34m.
	clk.Advance(34 * time.Minute)
	n, err := m.ExpireStale(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing stale, got n=%d err=%v", n, err)
	}

	clk.Advance(2 * time.Minute)
	n, err = m.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	s, _ := m.Get(context.Background(), "fam", sid)
	if s.State != StateExpired {
		t.Fatalf("expected expired, got %s", s.State)
	}
	if s.StartedAt != nil {
		t.Fatalf("live must never be reached")
	}
}

func TestEnd_ConcurrentCallsExactlyOnce(t *testing.T) {
	clk := newTestClock(time.Unix(1700000000, 0).UTC())
	m, _, sid := newTestManager(t, clk)
	goLive(t, m, sid)

	const n = 16
	results := make([]EndResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "caller"
			if i%2 == 0 {
				user = "recipient"
			}
			r, err := m.End(context.Background(), "fam", sid, user, EndReasonNormal)
			if err != nil {
				t.Errorf("end %d: %v", i, err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	firstWins := 0
	for _, r := range results {
		if !r.AlreadyEnded {
			firstWins++
		}
	}
	if firstWins != 1 {
		t.Fatalf("exactly one caller may win the end transition, got %d", firstWins)
	}
}
