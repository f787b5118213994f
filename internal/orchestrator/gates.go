package orchestrator

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/approval"
	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/worker"
)

// review posts the manifest and waits for the owner. Feedback sends the run
// back to define with the feedback folded into the task; repeated rejection
// escalates like any other gate, with the counter kept on the state so it
// survives the loop-back.
func (o *Orchestrator) review(ctx context.Context, st models.RunState) (Transition, error) {
	content, err := os.ReadFile(st.ManifestPath)
	if err != nil {
		return Transition{State: st}, fmt.Errorf("%w: read manifest: %v", ErrPrecondition, err)
	}

	if err := o.post(ctx, "review.post", reviewPostPrompt(st, string(content))); err != nil {
		return Transition{State: st}, err
	}

	res, err := o.policy.Await(ctx, approval.Gate{
		Name:        "review",
		CheckPrompt: reviewCheckPrompt(st),
		Fix: func(context.Context, string, int) (bool, error) {
			return true, nil
		},
		Escalate: func(ctx context.Context, feedback string) error {
			if err := o.post(ctx, "review.escalate", reviewEscalatePrompt(st, o.policy.MaxAttempts(), feedback)); err != nil {
				return err
			}
			// The owner has been told; a resumed run starts counting afresh.
			st.ReviewRevisions = 0
			return o.persist(&st)
		},
	}, st.ReviewRevisions)
	st.ReviewRevisions = res.Attempts
	if err != nil {
		return Transition{State: st}, err
	}

	if res.Approved {
		st.ReviewRevisions = 0
		return Advance(st), nil
	}

	o.logger.Info("manifest needs revision, back to define", zap.Int("revision", res.Attempts))
	st.Task = revisedTask(st, res.Feedback)
	return GoTo(st, models.PhaseDefine), nil
}

// integrate opens the pull request and shepherds it through review. The PR
// is only created once per run: its URL is saved before anyone is asked to
// look at it.
func (o *Orchestrator) integrate(ctx context.Context, st models.RunState) (Transition, error) {
	if st.PRURL == "" {
		res, err := o.worker.Invoke(ctx, worker.Request{
			Label:   "integrate.create",
			Prompt:  prCreatePrompt(st),
			Timeout: o.timeouts.PR,
		})
		if err != nil {
			return Transition{State: st}, err
		}

		if url := ExtractPRURL(res); url != "" {
			st.PRURL = url
			if err := o.persist(&st); err != nil {
				return Transition{State: st}, err
			}
			o.logger.Info("pull request created", zap.String("url", url))
		} else {
			o.logger.Warn("could not find the pull request URL in the worker output")
		}
	} else {
		o.logger.Info("pull request already open", zap.String("url", st.PRURL))
	}

	if err := o.post(ctx, "integrate.post", prPostPrompt(st)); err != nil {
		return Transition{State: st}, err
	}

	_, err := o.policy.Await(ctx, approval.Gate{
		Name:        "integrate",
		CheckPrompt: prCheckPrompt(st),
		Fix: func(ctx context.Context, feedback string, _ int) (bool, error) {
			return false, o.fix(ctx, "integrate.fix", prFixPrompt(st, feedback))
		},
		Escalate: func(ctx context.Context, feedback string) error {
			return o.post(ctx, "integrate.escalate", prEscalatePrompt(st, o.policy.MaxAttempts(), feedback))
		},
	}, 0)
	if err != nil {
		return Transition{State: st}, err
	}

	o.logger.Info("pull request approved")
	return Advance(st), nil
}

func (o *Orchestrator) qa(ctx context.Context, st models.RunState) (Transition, error) {
	if len(st.QAStakeholders()) == 0 {
		o.logger.Info("no QA stakeholders, skipping QA")
		return Advance(st), nil
	}

	if err := o.post(ctx, "qa.post", qaPostPrompt(st)); err != nil {
		return Transition{State: st}, err
	}

	_, err := o.policy.Await(ctx, approval.Gate{
		Name:        "qa",
		CheckPrompt: qaCheckPrompt(st),
		Fix: func(ctx context.Context, feedback string, _ int) (bool, error) {
			return false, o.fix(ctx, "qa.fix", qaFixPrompt(st, feedback))
		},
		Escalate: func(ctx context.Context, feedback string) error {
			return o.post(ctx, "qa.escalate", qaEscalatePrompt(st, o.policy.MaxAttempts(), feedback))
		},
	}, 0)
	if err != nil {
		return Transition{State: st}, err
	}

	o.logger.Info("QA signed off")
	return Advance(st), nil
}

// done posts the completion notice and marks the run complete.
func (o *Orchestrator) done(ctx context.Context, st models.RunState) (Transition, error) {
	if err := o.post(ctx, "done.post", donePrompt(st)); err != nil {
		return Transition{State: st}, err
	}
	now := o.now()
	st.CompletedAt = &now
	return Advance(st), nil
}

func (o *Orchestrator) fix(ctx context.Context, label, prompt string) error {
	_, err := o.worker.Invoke(ctx, worker.Request{
		Label:   label,
		Prompt:  prompt,
		Timeout: o.timeouts.Fix,
	})
	return err
}
