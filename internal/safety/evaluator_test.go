package safety

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"coparent-platform/internal/incident"
	"coparent-platform/internal/transcript"
)

type scriptedClassifier struct {
	mu       sync.Mutex
	attempts int
	script   []func(in Input) (Verdict, error)
}

func (c *scriptedClassifier) Classify(ctx context.Context, in Input) (Verdict, error) {
	c.mu.Lock()
	idx := c.attempts
	c.attempts++
	c.mu.Unlock()
	if idx < len(c.script) {
		return c.script[idx](in)
	}
	return Verdict{}, nil
}

func (c *scriptedClassifier) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

type flagRecord struct {
	sessionID  string
	fragmentID string
	reason     string
}

type fakeRecorder struct {
	mu    sync.Mutex
	flags []flagRecord
	seen  map[string]bool
	err   error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{seen: map[string]bool{}}
}

func (r *fakeRecorder) RecordAutoFlag(ctx context.Context, familyID, sessionID, fragmentID, reason, evidence string, confidence float64) (incident.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return incident.Incident{}, r.err
	}
	key := sessionID + "|" + fragmentID
	if r.seen[key] {
		return incident.Incident{}, incident.ErrDuplicateIncident
	}
	r.seen[key] = true
	r.flags = append(r.flags, flagRecord{sessionID: sessionID, fragmentID: fragmentID, reason: reason})
	return incident.Incident{ID: "inc-1"}, nil
}

func (r *fakeRecorder) recorded() []flagRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]flagRecord, len(r.flags))
	copy(out, r.flags)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFragment(seq int64, text string) transcript.Fragment {
	return transcript.Fragment{
		FragmentID: "frag-1",
		FamilyID:   "fam-1",
		SessionID:  "sess-1",
		SpeakerID:  "parent-a",
		SequenceNo: seq,
		Text:       text,
		Confidence: 0.95,
		IsFinal:    true,
	}
}

func fastConfig() Config {
	return Config{Timeout: 50 * time.Millisecond, Retries: 2, RetryBackoff: time.Millisecond, ContextWindow: 6}
}

func TestFlaggedUtteranceRecordsIncident(t *testing.T) {
	rec := newFakeRecorder()
	e := NewEvaluator(RuleClassifier{}, rec, fastConfig(), testLogger())

	e.Process(context.Background(), testFragment(1, "You will regret this, I promise."))

	flags := rec.recorded()
	if len(flags) != 1 {
		t.Fatalf("expected 1 flag, got %d", len(flags))
	}
	if flags[0].reason != CategoryThreat {
		t.Fatalf("expected threat category, got %q", flags[0].reason)
	}
}

func TestCleanUtteranceRecordsNothing(t *testing.T) {
	rec := newFakeRecorder()
	e := NewEvaluator(RuleClassifier{}, rec, fastConfig(), testLogger())

	e.Process(context.Background(), testFragment(1, "Can we move pickup to five on Friday?"))

	if got := rec.recorded(); len(got) != 0 {
		t.Fatalf("expected no flags, got %d", len(got))
	}
}

func TestInterimFragmentsSkipped(t *testing.T) {
	rec := newFakeRecorder()
	cls := &scriptedClassifier{}
	e := NewEvaluator(cls, rec, fastConfig(), testLogger())

	f := testFragment(1, "you will regret this")
	f.IsFinal = false
	e.Process(context.Background(), f)

	if cls.calls() != 0 {
		t.Fatalf("interim fragment reached the classifier")
	}
}

func TestRetryRecoversAfterTimeouts(t *testing.T) {
	flagged := func(in Input) (Verdict, error) {
		return Verdict{Flagged: true, Category: CategoryHarassment, Confidence: 0.9}, nil
	}
	timeout := func(in Input) (Verdict, error) {
		return Verdict{}, context.DeadlineExceeded
	}
	cls := &scriptedClassifier{script: []func(Input) (Verdict, error){timeout, timeout, flagged}}
	rec := newFakeRecorder()
	e := NewEvaluator(cls, rec, fastConfig(), testLogger())

	e.Process(context.Background(), testFragment(1, "something awful"))

	if cls.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", cls.calls())
	}
	if len(rec.recorded()) != 1 {
		t.Fatalf("expected the flag after recovery, got %d", len(rec.recorded()))
	}
	if e.Failures("sess-1") != 0 {
		t.Fatalf("recovered evaluation must not count as a failure")
	}
}

func TestExhaustedRetriesCountAsFailure(t *testing.T) {
	boom := func(in Input) (Verdict, error) { return Verdict{}, errors.New("model unavailable") }
	cls := &scriptedClassifier{script: []func(Input) (Verdict, error){boom, boom, boom}}
	rec := newFakeRecorder()
	e := NewEvaluator(cls, rec, fastConfig(), testLogger())

	e.Process(context.Background(), testFragment(1, "unreachable"))

	if cls.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", cls.calls())
	}
	if len(rec.recorded()) != 0 {
		t.Fatalf("failed evaluation must not record a flag")
	}
	if e.Failures("sess-1") != 1 {
		t.Fatalf("expected 1 failure, got %d", e.Failures("sess-1"))
	}
}

func TestDuplicateFlagTreatedAsSuccess(t *testing.T) {
	rec := newFakeRecorder()
	e := NewEvaluator(RuleClassifier{}, rec, fastConfig(), testLogger())
	ctx := context.Background()

	e.Process(ctx, testFragment(1, "watch your back"))
	e.Process(ctx, testFragment(1, "watch your back"))

	if got := len(rec.recorded()); got != 1 {
		t.Fatalf("expected 1 flag for the retried fragment, got %d", got)
	}
	if e.Failures("sess-1") != 0 {
		t.Fatalf("duplicate flag must not count as a failure")
	}
}

func TestContextWindowBounded(t *testing.T) {
	var captured []string
	cls := &scriptedClassifier{}
	for i := 0; i < 10; i++ {
		cls.script = append(cls.script, func(in Input) (Verdict, error) {
			captured = append(captured[:0], in.Context...)
			return Verdict{}, nil
		})
	}
	cfg := fastConfig()
	cfg.ContextWindow = 3
	e := NewEvaluator(cls, newFakeRecorder(), cfg, testLogger())
	ctx := context.Background()

	texts := []string{"one", "two", "three", "four", "five"}
	for i, text := range texts {
		f := testFragment(int64(i+1), text)
		f.FragmentID = text
		e.Process(ctx, f)
	}

	if len(captured) != 3 {
		t.Fatalf("expected window of 3, got %d: %v", len(captured), captured)
	}
	want := []string{"two", "three", "four"}
	for i := range want {
		if captured[i] != want[i] {
			t.Fatalf("window mismatch at %d: got %q want %q", i, captured[i], want[i])
		}
	}
}

func TestForgetClearsState(t *testing.T) {
	boom := func(in Input) (Verdict, error) { return Verdict{}, errors.New("down") }
	cls := &scriptedClassifier{script: []func(Input) (Verdict, error){boom, boom, boom}}
	e := NewEvaluator(cls, newFakeRecorder(), fastConfig(), testLogger())

	e.Process(context.Background(), testFragment(1, "hello"))
	if e.Failures("sess-1") != 1 {
		t.Fatalf("expected failure recorded")
	}
	e.Forget("sess-1")
	if e.Failures("sess-1") != 0 {
		t.Fatalf("expected state cleared after Forget")
	}
}
