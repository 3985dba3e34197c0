package safety

import (
	"context"
	"strings"
)

// Input is one utterance plus the rolling context preceding it, oldest first.
type Input struct {
	SessionID string
	SpeakerID string
	Text      string
	Context   []string
}

// Verdict is a classifier decision for a single utterance.
type Verdict struct {
	Flagged    bool
	Category   string
	Confidence float64
	Rationale  string
}

// Classifier scores utterances for conduct violations. Implementations may be
// remote models; callers own timeouts and retries.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Verdict, error)
}

const (
	CategoryThreat       = "threat"
	CategoryHarassment   = "harassment"
	CategoryManipulation = "manipulation"
)

// RuleClassifier is the built-in phrase-matching classifier. It is the
// fallback when no model endpoint is configured and the fixture classifier
// for local runs.
type RuleClassifier struct{}

var ruleOrder = []string{CategoryThreat, CategoryHarassment, CategoryManipulation}

var rulePhrases = map[string][]string{
	CategoryThreat:       {"i will hurt", "you will regret", "i'll make you pay", "watch your back"},
	CategoryHarassment:   {"you are worthless", "you're a terrible parent", "nobody wants you", "shut your mouth"},
	CategoryManipulation: {"the kids hate you", "i'll tell the judge", "you'll never see them"},
}

func (RuleClassifier) Classify(ctx context.Context, in Input) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	text := strings.ToLower(in.Text)
	for _, category := range ruleOrder {
		for _, p := range rulePhrases[category] {
			if strings.Contains(text, p) {
				return Verdict{
					Flagged:    true,
					Category:   category,
					Confidence: 0.85,
					Rationale:  "matched phrase: " + p,
				}, nil
			}
		}
	}
	return Verdict{}, nil
}
