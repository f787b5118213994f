// Package approval implements the poll-fix-escalate loop shared by every
// phase that waits for a human to sign off on an artifact.
package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/poll"
)

const DefaultMaxAttempts = 3

// Decider returns the next human decision. *poll.Poller satisfies it.
type Decider interface {
	WaitForDecision(ctx context.Context, label, prompt string) (poll.Decision, error)
}

// Observer is told about fix attempts and escalations.
type Observer interface {
	FixAttempt(gate string)
	Escalation(gate string)
}

// Gate describes one approval checkpoint.
type Gate struct {
	Name        string
	CheckPrompt string

	// Fix reacts to feedback. Returning stop=true ends the wait with the
	// feedback as the result instead of polling again.
	Fix func(ctx context.Context, feedback string, attempt int) (stop bool, err error)

	// Escalate hands the problem to the owner once fixes keep failing.
	Escalate func(ctx context.Context, feedback string) error
}

// Result is how a wait ended.
type Result struct {
	Approved bool
	Feedback string

	// Attempts is the fix counter at exit, for gates that carry it across
	// waits.
	Attempts int
}

type Policy struct {
	decider     Decider
	maxAttempts int
	observer    Observer
	logger      *zap.Logger
}

func New(decider Decider, maxAttempts int, observer Observer, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Policy{
		decider:     decider,
		maxAttempts: maxAttempts,
		observer:    observer,
		logger:      logger.Named("approval"),
	}
}

func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Await waits until the gate is approved. Feedback increments the attempt
// counter; at or below the maximum the gate fixes, above it the owner is
// escalated to and the counter resets. Rejection never fails the wait.
func (p *Policy) Await(ctx context.Context, g Gate, attempts int) (Result, error) {
	log := p.logger.With(zap.String("gate", g.Name))
	for {
		d, err := p.decider.WaitForDecision(ctx, g.Name+".poll", g.CheckPrompt)
		if err != nil {
			return Result{Attempts: attempts}, err
		}

		if d.Approved {
			log.Info("approved")
			return Result{Approved: true, Attempts: attempts}, nil
		}

		attempts++
		log.Info("feedback received",
			zap.Int("attempt", attempts), zap.String("feedback", clip(d.Feedback, 200)))

		if attempts > p.maxAttempts {
			log.Warn("fix attempts exhausted, escalating to owner", zap.Int("max", p.maxAttempts))
			if p.observer != nil {
				p.observer.Escalation(g.Name)
			}
			if err := g.Escalate(ctx, d.Feedback); err != nil {
				return Result{Attempts: attempts}, fmt.Errorf("escalate %s: %w", g.Name, err)
			}
			attempts = 0
			continue
		}

		if p.observer != nil {
			p.observer.FixAttempt(g.Name)
		}
		stop, err := g.Fix(ctx, d.Feedback, attempts)
		if err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("fix %s: %w", g.Name, err)
		}
		if stop {
			return Result{Feedback: d.Feedback, Attempts: attempts}, nil
		}
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
