// Package classifier turns a ticket's title and description into triage
// hints: priority, notes for the assignee and the skills needed.
package classifier

import (
	"context"

	"go.uber.org/zap"
)

// Classification is the advisory result of classifying a ticket. Fields are
// raw model output; callers normalize them.
type Classification struct {
	Summary       string   `json:"summary"`
	Priority      string   `json:"priority"`
	HelpfulNotes  string   `json:"helpfulNotes"`
	RelatedSkills []string `json:"relatedSkills"`
}

// Classifier never fails: any problem yields a nil classification.
type Classifier interface {
	Classify(ctx context.Context, title, description string) *Classification
}

// Noop is used when no model is configured.
type Noop struct {
	Logger *zap.Logger
}

func (n Noop) Classify(ctx context.Context, title, description string) *Classification {
	if n.Logger != nil {
		n.Logger.Debug("classifier disabled; skipping classification")
	}
	return nil
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, title, description string) *Classification

func (f Func) Classify(ctx context.Context, title, description string) *Classification {
	return f(ctx, title, description)
}
