// Package policy decides whether a thread may receive an automatic reply.
// A false decision means "needs a human"; an error means the decision could
// not be made at all.
package policy

import (
	"context"
	"fmt"

	"github.com/znz-systems/mailpilot/internal/ai"
	"github.com/znz-systems/mailpilot/internal/models"
)

type Policy interface {
	Approve(ctx context.Context, thread *models.Thread) (bool, error)
}

// Func adapts a plain function to Policy.
type Func func(ctx context.Context, thread *models.Thread) (bool, error)

func (f Func) Approve(ctx context.Context, thread *models.Thread) (bool, error) {
	return f(ctx, thread)
}

// All approves only when every policy approves. Evaluation stops at the first
// rejection or error.
func All(policies ...Policy) Policy {
	return Func(func(ctx context.Context, thread *models.Thread) (bool, error) {
		for _, p := range policies {
			ok, err := p.Approve(ctx, thread)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// Classifier defers the decision to a language model.
type Classifier struct {
	model ai.Classifier
}

func NewClassifier(model ai.Classifier) *Classifier {
	return &Classifier{model: model}
}

func (c *Classifier) Approve(ctx context.Context, thread *models.Thread) (bool, error) {
	ok, err := c.model.Classify(ctx, thread)
	if err != nil {
		return false, fmt.Errorf("classify thread %s: %w", thread.ID, err)
	}
	return ok, nil
}
