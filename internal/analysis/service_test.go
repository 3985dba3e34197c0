package analysis

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"coparent-platform/internal/incident"
	"coparent-platform/internal/session"
	"coparent-platform/internal/transcript"
)

type fakeSessions struct {
	sess session.Session
	err  error
}

func (f *fakeSessions) Snapshot(ctx context.Context, familyID, sessionID string) (session.Session, error) {
	return f.sess, f.err
}

type fakeFragments struct {
	rows []transcript.Fragment
}

func (f *fakeFragments) ListFinal(ctx context.Context, familyID, sessionID string) ([]transcript.Fragment, error) {
	return f.rows, nil
}

type fakeIncidents struct {
	rows []incident.Incident
}

func (f *fakeIncidents) List(ctx context.Context, familyID, sessionID string) ([]incident.Incident, error) {
	return f.rows, nil
}

type fakeFailures struct {
	count     int
	forgotten bool
}

func (f *fakeFailures) Failures(sessionID string) int { return f.count }
func (f *fakeFailures) Forget(sessionID string)       { f.forgotten = true }

func endedSession(endedAgo time.Duration, now time.Time) session.Session {
	started := now.Add(-endedAgo - 20*time.Minute)
	ended := now.Add(-endedAgo)
	return session.Session{
		ID:        "sess-1",
		FamilyID:  "fam-1",
		Caller:    session.Participant{UserID: "parent-a"},
		Recipient: session.Participant{UserID: "parent-b"},
		State:     session.StateEnded,
		StartedAt: &started,
		EndedAt:   &ended,
	}
}

func autoInc(reason string) incident.Incident {
	return incident.Incident{Kind: incident.KindAutoFlagged, Reason: reason}
}

func manualInc() incident.Incident {
	return incident.Incident{Kind: incident.KindManualReport, Reason: "verbal abuse"}
}

func newTestService(sess session.Session, incs []incident.Incident, failures *fakeFailures, now time.Time) (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo, &fakeSessions{sess: sess}, &fakeFragments{}, &fakeIncidents{rows: incs}, failures, nil, nil, Config{SettleDelay: 2 * time.Minute})
	svc.clock = func() time.Time { return now }
	return svc, repo
}

func TestComputeScoresPenalties(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	incs := []incident.Incident{manualInc(), manualInc(), autoInc("threat"), autoInc("harassment"), autoInc("threat")}
	svc, _ := newTestService(endedSession(5*time.Minute, now), incs, &fakeFailures{}, now)

	a, err := svc.Compute(context.Background(), "fam-1", "sess-1")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// 10 - 2*2 manual - 3*1 auto = 3
	if a.SafetyScore != 3 {
		t.Fatalf("expected score 3, got %d", a.SafetyScore)
	}
	if a.IncidentCount != 5 {
		t.Fatalf("expected 5 incidents, got %d", a.IncidentCount)
	}
	if a.Incomplete {
		t.Fatalf("expected complete analysis")
	}
}

func TestComputeFloorsScoreAtZero(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	var incs []incident.Incident
	for i := 0; i < 8; i++ {
		incs = append(incs, manualInc())
	}
	svc, _ := newTestService(endedSession(5*time.Minute, now), incs, &fakeFailures{}, now)

	a, err := svc.Compute(context.Background(), "fam-1", "sess-1")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if a.SafetyScore != 0 {
		t.Fatalf("expected floored score 0, got %d", a.SafetyScore)
	}
}

func TestComputeNotReadyBeforeSettle(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc, _ := newTestService(endedSession(30*time.Second, now), nil, &fakeFailures{}, now)

	if _, err := svc.Compute(context.Background(), "fam-1", "sess-1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before settle delay, got %v", err)
	}
}

func TestComputeNotReadyWhileLive(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	sess := endedSession(5*time.Minute, now)
	sess.State = session.StateLive
	sess.EndedAt = nil
	svc, _ := newTestService(sess, nil, &fakeFailures{}, now)

	if _, err := svc.Compute(context.Background(), "fam-1", "sess-1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady for live session, got %v", err)
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	incs := []incident.Incident{manualInc(), autoInc("threat")}
	svc, _ := newTestService(endedSession(5*time.Minute, now), incs, &fakeFailures{}, now)
	ctx := context.Background()

	first, err := svc.Compute(ctx, "fam-1", "sess-1")
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}
	// Later recompute returns the stored row untouched.
	svc.clock = func() time.Time { return now.Add(time.Hour) }
	second, err := svc.Compute(ctx, "fam-1", "sess-1")
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("recompute changed the analysis:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	incs := []incident.Incident{autoInc("harassment"), manualInc()}

	svcA, _ := newTestService(endedSession(5*time.Minute, now), incs, &fakeFailures{}, now)
	svcB, _ := newTestService(endedSession(5*time.Minute, now), incs, &fakeFailures{}, now)
	ctx := context.Background()

	a, err := svcA.Compute(ctx, "fam-1", "sess-1")
	if err != nil {
		t.Fatalf("compute a: %v", err)
	}
	b, err := svcB.Compute(ctx, "fam-1", "sess-1")
	if err != nil {
		t.Fatalf("compute b: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same inputs produced different analyses:\na: %+v\nb: %+v", a, b)
	}
}

func TestComputeMarksIncomplete(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	failures := &fakeFailures{count: 2}
	svc, _ := newTestService(endedSession(5*time.Minute, now), nil, failures, now)

	a, err := svc.Compute(context.Background(), "fam-1", "sess-1")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !a.Incomplete {
		t.Fatalf("expected incomplete analysis with evaluation failures")
	}
	if !failures.forgotten {
		t.Fatalf("expected evaluator state released after compute")
	}
}

func TestRecommendationsTemplated(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	incs := []incident.Incident{autoInc("threat"), autoInc("threat"), manualInc()}
	svc, _ := newTestService(endedSession(5*time.Minute, now), incs, &fakeFailures{}, now)

	a, err := svc.Compute(context.Background(), "fam-1", "sess-1")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(a.Recommendations) != 2 {
		t.Fatalf("expected 2 recommendations, got %v", a.Recommendations)
	}

	svcClean, _ := newTestService(endedSession(5*time.Minute, now), nil, &fakeFailures{}, now)
	clean, err := svcClean.Compute(context.Background(), "fam-1", "sess-2")
	if err != nil {
		t.Fatalf("compute clean: %v", err)
	}
	if len(clean.Recommendations) != 1 {
		t.Fatalf("expected the no-action recommendation, got %v", clean.Recommendations)
	}
}

func TestGetBeforeComputeReturnsNotFound(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc, _ := newTestService(endedSession(5*time.Minute, now), nil, &fakeFailures{}, now)

	if _, err := svc.Get(context.Background(), "fam-1", "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
