package sweeper

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"coparent-platform/internal/analysis"
)

type countingExpirer struct {
	calls int
	n     int
}

func (e *countingExpirer) ExpireStale(ctx context.Context) (int, error) {
	e.calls++
	return e.n, nil
}

type fakeComputer struct {
	results map[string]error
	calls   map[string]int
}

func newFakeComputer() *fakeComputer {
	return &fakeComputer{results: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeComputer) Compute(ctx context.Context, familyID, sessionID string) (analysis.CallAnalysis, error) {
	c.calls[sessionID]++
	return analysis.CallAnalysis{SessionID: sessionID}, c.results[sessionID]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceExpiresAndComputes(t *testing.T) {
	inv := &countingExpirer{n: 2}
	sess := &countingExpirer{}
	comp := newFakeComputer()
	s := New(inv, sess, comp, testLogger())
	s.OnSessionEnded("fam-1", "sess-1")

	s.RunOnce(context.Background())

	if inv.calls != 1 || sess.calls != 1 {
		t.Fatalf("expected both expirers called once, got %d/%d", inv.calls, sess.calls)
	}
	if comp.calls["sess-1"] != 1 {
		t.Fatalf("expected analysis computed, got %d calls", comp.calls["sess-1"])
	}

	// Computed sessions leave the queue.
	s.RunOnce(context.Background())
	if comp.calls["sess-1"] != 1 {
		t.Fatalf("expected no recompute, got %d calls", comp.calls["sess-1"])
	}
}

func TestNotReadySessionsRetryNextSweep(t *testing.T) {
	comp := newFakeComputer()
	comp.results["sess-1"] = analysis.ErrNotReady
	s := New(&countingExpirer{}, &countingExpirer{}, comp, testLogger())
	s.OnSessionEnded("fam-1", "sess-1")

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())
	if comp.calls["sess-1"] != 2 {
		t.Fatalf("expected retry while not ready, got %d calls", comp.calls["sess-1"])
	}

	delete(comp.results, "sess-1")
	s.RunOnce(context.Background())
	s.RunOnce(context.Background())
	if comp.calls["sess-1"] != 3 {
		t.Fatalf("expected queue drained after success, got %d calls", comp.calls["sess-1"])
	}
}
