package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coparent-platform/internal/incident"
	"coparent-platform/internal/notify"
	"coparent-platform/internal/session"
	"coparent-platform/internal/transcript"
)

var (
	ErrNotFound      = errors.New("analysis: not found")
	ErrNotReady      = errors.New("analysis: session not ready for analysis")
	ErrAlreadyExists = errors.New("analysis: already computed")
)

// Repository persists one analysis per session. Create returns
// ErrAlreadyExists when a row for the session is present.
type Repository interface {
	Create(ctx context.Context, a CallAnalysis) error
	Get(ctx context.Context, familyID, sessionID string) (CallAnalysis, error)
}

// SessionSource provides the consistent session read. Implemented by
// *session.Manager.
type SessionSource interface {
	Snapshot(ctx context.Context, familyID, sessionID string) (session.Session, error)
}

// FragmentSource lists the finalized transcript. Implemented by the
// transcript stores.
type FragmentSource interface {
	ListFinal(ctx context.Context, familyID, sessionID string) ([]transcript.Fragment, error)
}

// IncidentSource lists the session's ledger. Implemented by *incident.Service.
type IncidentSource interface {
	List(ctx context.Context, familyID, sessionID string) ([]incident.Incident, error)
}

// FailureSource reports unevaluated fragments. Implemented by
// *safety.Evaluator.
type FailureSource interface {
	Failures(sessionID string) int
	Forget(sessionID string)
}

// Summarizer produces the prose summary. The default is template-based and
// deterministic; an LLM-backed implementation can be swapped in, at the cost
// of recompute determinism for the summary field only.
type Summarizer interface {
	Summarize(ctx context.Context, sess session.Session, fragments []transcript.Fragment, incidents []incident.Incident) (string, error)
}

type Config struct {
	// SettleDelay is how long after session end the aggregator waits so the
	// ingest queue and evaluator can drain.
	SettleDelay time.Duration
	// FailureThreshold is how many unevaluated fragments are tolerated
	// before the analysis is marked incomplete.
	FailureThreshold int
}

func (c Config) withDefaults() Config {
	out := c
	if out.SettleDelay <= 0 {
		out.SettleDelay = 2 * time.Minute
	}
	return out
}

// Service computes and serves call analyses.
//
// Scoring is fixed arithmetic over the ledger, so a recompute against the
// same inputs reproduces the same result apart from computed_at.
type Service struct {
	repo       Repository
	sessions   SessionSource
	fragments  FragmentSource
	incidents  IncidentSource
	failures   FailureSource
	summarizer Summarizer
	notifier   notify.Notifier
	cfg        Config
	clock      func() time.Time
}

func NewService(repo Repository, sessions SessionSource, fragments FragmentSource, incidents IncidentSource, failures FailureSource, summarizer Summarizer, notifier notify.Notifier, cfg Config) *Service {
	if summarizer == nil {
		summarizer = TemplateSummarizer{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:       repo,
		sessions:   sessions,
		fragments:  fragments,
		incidents:  incidents,
		failures:   failures,
		summarizer: summarizer,
		notifier:   notifier,
		cfg:        cfg.withDefaults(),
		clock:      time.Now,
	}
}

const (
	baseSafetyScore     = 10
	manualReportPenalty = 2
	autoFlagPenalty     = 1
)

// Compute builds the analysis for an ended session. It is idempotent: if an
// analysis already exists it is returned unchanged. Sessions that have not
// ended, or ended too recently for the pipeline to settle, return ErrNotReady.
func (s *Service) Compute(ctx context.Context, familyID, sessionID string) (CallAnalysis, error) {
	if existing, err := s.repo.Get(ctx, familyID, sessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return CallAnalysis{}, err
	}

	sess, err := s.sessions.Snapshot(ctx, familyID, sessionID)
	if err != nil {
		return CallAnalysis{}, err
	}
	now := s.clock().UTC()
	if sess.State != session.StateEnded || sess.EndedAt == nil {
		return CallAnalysis{}, ErrNotReady
	}
	if now.Before(sess.EndedAt.Add(s.cfg.SettleDelay)) {
		return CallAnalysis{}, ErrNotReady
	}

	fragments, err := s.fragments.ListFinal(ctx, familyID, sessionID)
	if err != nil {
		return CallAnalysis{}, err
	}
	incidents, err := s.incidents.List(ctx, familyID, sessionID)
	if err != nil {
		return CallAnalysis{}, err
	}

	summary, err := s.summarizer.Summarize(ctx, sess, fragments, incidents)
	if err != nil {
		return CallAnalysis{}, err
	}

	a := CallAnalysis{
		SessionID:       sessionID,
		FamilyID:        familyID,
		Summary:         summary,
		SafetyScore:     scoreIncidents(incidents),
		IncidentCount:   len(incidents),
		Recommendations: recommend(incidents),
		Incomplete:      s.failures != nil && s.failures.Failures(sessionID) > s.cfg.FailureThreshold,
		ComputedAt:      now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost the race to another computation of the same inputs.
			return s.repo.Get(ctx, familyID, sessionID)
		}
		return CallAnalysis{}, err
	}
	if s.failures != nil {
		s.failures.Forget(sessionID)
	}

	_ = s.notifier.Publish(ctx, notify.Event{
		Type:       notify.EventAnalysisReady,
		FamilyID:   familyID,
		SessionID:  sessionID,
		OccurredAt: now,
	})
	return a, nil
}

// Get returns a previously computed analysis.
func (s *Service) Get(ctx context.Context, familyID, sessionID string) (CallAnalysis, error) {
	return s.repo.Get(ctx, familyID, sessionID)
}

func scoreIncidents(incidents []incident.Incident) int {
	score := baseSafetyScore
	for _, inc := range incidents {
		switch inc.Kind {
		case incident.KindManualReport:
			score -= manualReportPenalty
		case incident.KindAutoFlagged:
			score -= autoFlagPenalty
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

var categoryRecommendations = map[string]string{
	"threat":       "Review flagged threatening language with a mediator before the next scheduled call.",
	"harassment":   "Consider enabling mediator presence for future calls in this family.",
	"manipulation": "Flagged statements reference custody outcomes; share the transcript with the assigned case worker.",
}

// recommend maps the ledger to templated guidance. Output order is fixed so
// recomputation is reproducible.
func recommend(incidents []incident.Incident) []string {
	var out []string
	manual := 0
	seen := map[string]bool{}
	for _, inc := range incidents {
		if inc.Kind == incident.KindManualReport {
			manual++
			continue
		}
		seen[inc.Reason] = true
	}
	for _, category := range []string{"threat", "harassment", "manipulation"} {
		if seen[category] {
			out = append(out, categoryRecommendations[category])
		}
	}
	if manual > 0 {
		out = append(out, fmt.Sprintf("%d participant report(s) were filed; a case auditor should review this session.", manual))
	}
	if len(out) == 0 {
		out = append(out, "No safety concerns detected. No action required.")
	}
	return out
}

// TemplateSummarizer renders a fixed-form summary from the call facts.
type TemplateSummarizer struct{}

func (TemplateSummarizer) Summarize(ctx context.Context, sess session.Session, fragments []transcript.Fragment, incidents []incident.Incident) (string, error) {
	duration := "unknown duration"
	if sess.StartedAt != nil && sess.EndedAt != nil {
		duration = fmt.Sprintf("%d minute(s)", int(sess.EndedAt.Sub(*sess.StartedAt).Round(time.Minute).Minutes()))
	}
	return fmt.Sprintf("Call between %s and %s lasted %s with %d transcribed utterance(s) and %d recorded incident(s).",
		sess.Caller.UserID, sess.Recipient.UserID, duration, len(fragments), len(incidents)), nil
}
