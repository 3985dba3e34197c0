package safety

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"coparent-platform/internal/incident"
	"coparent-platform/internal/transcript"
)

// FlagRecorder appends evaluator flags to the incident ledger.
// Implemented by *incident.Service.
type FlagRecorder interface {
	RecordAutoFlag(ctx context.Context, familyID, sessionID, fragmentID, reason, evidence string, confidence float64) (incident.Incident, error)
}

// Config carries the evaluator knobs.
type Config struct {
	// Timeout bounds a single classifier attempt.
	Timeout time.Duration
	// Retries is the number of additional attempts after the first failure.
	Retries int
	// RetryBackoff is the base delay between attempts, doubled each retry.
	RetryBackoff time.Duration
	// ContextWindow is how many preceding utterances accompany each one.
	ContextWindow int
}

func (c Config) withDefaults() Config {
	out := c
	if out.Timeout <= 0 {
		out.Timeout = 3 * time.Second
	}
	if out.Retries <= 0 {
		out.Retries = 2
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 100 * time.Millisecond
	}
	if out.ContextWindow <= 0 {
		out.ContextWindow = 6
	}
	return out
}

type sessionState struct {
	window   []string
	failures int
}

// Evaluator scores transcript fragments as they drain from the ingest queue.
// It implements transcript.Sink.
//
// The evaluator is advisory only: it records incidents and failures but never
// touches session state. Ending a call is a human decision.
type Evaluator struct {
	classifier Classifier
	flags      FlagRecorder
	cfg        Config
	log        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func NewEvaluator(classifier Classifier, flags FlagRecorder, cfg Config, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{
		classifier: classifier,
		flags:      flags,
		cfg:        cfg.withDefaults(),
		log:        log,
		sessions:   map[string]*sessionState{},
	}
}

// Process evaluates one fragment. Interim recognizer output is skipped so the
// finalized version of the same speech is not flagged twice.
func (e *Evaluator) Process(ctx context.Context, f transcript.Fragment) {
	if !f.IsFinal {
		return
	}

	in := Input{
		SessionID: f.SessionID,
		SpeakerID: f.SpeakerID,
		Text:      f.Text,
		Context:   e.pushContext(f.SessionID, f.Text),
	}

	verdict, err := e.classify(ctx, in)
	if err != nil {
		e.recordFailure(f.SessionID)
		e.log.Error("classifier unavailable, fragment unevaluated",
			"session_id", f.SessionID,
			"fragment_id", f.FragmentID,
			"error", err,
		)
		return
	}
	if !verdict.Flagged {
		return
	}

	_, err = e.flags.RecordAutoFlag(ctx, f.FamilyID, f.SessionID, f.FragmentID,
		verdict.Category, f.Text, verdict.Confidence)
	if errors.Is(err, incident.ErrDuplicateIncident) {
		return
	}
	if err != nil {
		e.log.Error("failed to record auto flag",
			"session_id", f.SessionID,
			"fragment_id", f.FragmentID,
			"error", err,
		)
	}
}

// classify runs bounded attempts against the classifier. Each attempt gets a
// fresh timeout; backoff doubles between attempts.
func (e *Evaluator) classify(ctx context.Context, in Input) (Verdict, error) {
	var lastErr error
	backoff := e.cfg.RetryBackoff
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Verdict{}, ctx.Err()
			}
			backoff *= 2
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		verdict, err := e.classifier.Classify(attemptCtx, in)
		cancel()
		if err == nil {
			return verdict, nil
		}
		lastErr = err
	}
	return Verdict{}, lastErr
}

// pushContext returns the window preceding the utterance and appends the
// utterance for the next call. Both speakers share one window: cross-speaker
// exchanges are exactly what gives an utterance its meaning.
func (e *Evaluator) pushContext(sessionID, text string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		e.sessions[sessionID] = st
	}
	prior := make([]string, len(st.window))
	copy(prior, st.window)

	st.window = append(st.window, text)
	if excess := len(st.window) - e.cfg.ContextWindow; excess > 0 {
		st.window = st.window[excess:]
	}
	return prior
}

func (e *Evaluator) recordFailure(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		e.sessions[sessionID] = st
	}
	st.failures++
}

// Failures reports how many fragments went unevaluated for the session.
// Analysis uses a non-zero count to mark its result incomplete.
func (e *Evaluator) Failures(sessionID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.sessions[sessionID]; ok {
		return st.failures
	}
	return 0
}

// Forget releases per-session state. Called after analysis has consumed the
// failure count.
func (e *Evaluator) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}
