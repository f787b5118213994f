// Package orchestrator drives a run through its phases. It owns no domain
// logic: every phase delegates the real work to the worker and the humans
// in the channel, and the orchestrator only decides what runs next and
// makes sure the state on disk always says where to pick up.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/approval"
	"github.com/mpataki/collab/internal/config"
	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/poll"
	"github.com/mpataki/collab/internal/worker"
)

// Transition is what a phase handler hands back: the state it produced and,
// optionally, the phase to go to. An empty Next advances to the phase that
// statically follows.
type Transition struct {
	State models.RunState
	Next  models.Phase
}

func Advance(st models.RunState) Transition {
	return Transition{State: st}
}

func GoTo(st models.RunState, next models.Phase) Transition {
	return Transition{State: st, Next: next}
}

// Handler runs one phase over a private snapshot of the state.
type Handler func(ctx context.Context, st models.RunState) (Transition, error)

type Store interface {
	Save(st models.RunState) (string, error)
}

// Ledger indexes runs for listing. It is best effort.
type Ledger interface {
	UpsertRun(run models.RunSummary) error
}

type Observer interface {
	Transition(from, to models.Phase)
}

// ReplyWaiter blocks until someone answers in a thread. *poll.Poller
// satisfies it.
type ReplyWaiter interface {
	WaitForReply(ctx context.Context, th poll.Thread) (string, error)
}

type Deps struct {
	Worker   worker.Worker
	Replies  ReplyWaiter
	Policy   *approval.Policy
	Store    Store
	Ledger   Ledger
	Observer Observer
	Timeouts config.Timeouts
	Logger   *zap.Logger
}

type Orchestrator struct {
	worker   worker.Worker
	replies  ReplyWaiter
	policy   *approval.Policy
	store    Store
	ledger   Ledger
	observer Observer
	timeouts config.Timeouts
	logger   *zap.Logger

	handlers map[models.Phase]Handler
	now      func() time.Time
}

func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		worker:   d.Worker,
		replies:  d.Replies,
		policy:   d.Policy,
		store:    d.Store,
		ledger:   d.Ledger,
		observer: d.Observer,
		timeouts: d.Timeouts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	o.handlers = map[models.Phase]Handler{
		models.PhaseSetup:     o.setup,
		models.PhaseDefine:    o.define,
		models.PhaseReview:    o.review,
		models.PhaseExecute:   o.execute,
		models.PhaseIntegrate: o.integrate,
		models.PhaseQA:        o.qa,
		models.PhaseDone:      o.done,
	}
	return o
}

// Run drives st from its recorded phase to done. The state is saved after
// every transition and before any error is returned, so the returned state
// (and the file on disk) is always a valid place to resume from.
func (o *Orchestrator) Run(ctx context.Context, st models.RunState) (models.RunState, error) {
	if !st.Phase.Valid() {
		return st, fmt.Errorf("%w: %q", ErrUnknownPhase, st.Phase)
	}

	log := o.logger.With(zap.String("run_id", st.RunID))
	if err := o.persist(&st); err != nil {
		return st, err
	}

	for !st.Phase.Terminal() {
		current := st.Phase

		if current == models.PhaseQA && !st.HasQA {
			log.Info("no QA stakeholders, skipping QA")
			st.Phase = models.PhaseDone
			if err := o.persist(&st); err != nil {
				return st, err
			}
			o.transitioned(current, st.Phase)
			continue
		}

		log.Info(fmt.Sprintf("=== %s ===", current))
		tr, err := o.runHandler(ctx, current, st)
		if err != nil {
			return o.fail(st, tr, err)
		}

		next, err := resolveNext(current, tr)
		if err != nil {
			return o.fail(st, tr, err)
		}

		st = tr.State
		st.Phase = next
		if err := o.persist(&st); err != nil {
			return st, err
		}
		o.transitioned(current, next)
		log.Info("phase complete", zap.String("phase", string(current)), zap.String("next", string(next)))
	}

	return o.finish(ctx, st)
}

// finish posts the completion notice the first time a run reaches done.
func (o *Orchestrator) finish(ctx context.Context, st models.RunState) (models.RunState, error) {
	if st.CompletedAt != nil {
		o.logger.Info("run already complete", zap.String("run_id", st.RunID))
		return st, nil
	}

	tr, err := o.runHandler(ctx, models.PhaseDone, st)
	if err != nil {
		return o.fail(st, tr, err)
	}
	st = tr.State
	st.Phase = models.PhaseDone
	if err := o.persist(&st); err != nil {
		return st, err
	}
	o.logger.Info("workflow complete", zap.String("run_id", st.RunID))
	return st, nil
}

func (o *Orchestrator) runHandler(ctx context.Context, phase models.Phase, st models.RunState) (tr Transition, err error) {
	h, ok := o.handlers[phase]
	if !ok {
		return Transition{}, fmt.Errorf("%w: no handler for %q", ErrUnknownPhase, phase)
	}

	defer func() {
		if r := recover(); r != nil {
			tr = Transition{}
			err = fmt.Errorf("%s handler panicked: %v", phase, r)
		}
	}()

	return h(ctx, st.Clone())
}

// fail saves the last consistent state and returns the error. A state the
// handler returned alongside its error wins over the input snapshot, but
// the phase always stays where it failed.
func (o *Orchestrator) fail(st models.RunState, tr Transition, err error) (models.RunState, error) {
	failed := st
	if tr.State.RunID == st.RunID {
		failed = tr.State
		failed.Phase = st.Phase
	}

	o.logger.Error("phase failed",
		zap.String("run_id", st.RunID),
		zap.String("phase", string(st.Phase)),
		zap.Error(err))

	if perr := o.persist(&failed); perr != nil {
		o.logger.Error("failed to save state after error", zap.Error(perr))
	}
	return failed, fmt.Errorf("phase %s: %w", st.Phase, err)
}

func resolveNext(current models.Phase, tr Transition) (models.Phase, error) {
	if tr.Next == "" || tr.Next == current {
		return models.NextPhase(current, tr.State.HasQA)
	}
	if !tr.Next.Valid() {
		return "", fmt.Errorf("%w: %s handler asked for %q", ErrUnknownPhase, current, tr.Next)
	}
	if tr.Next == models.PhaseQA && !tr.State.HasQA {
		return models.PhaseDone, nil
	}
	return tr.Next, nil
}

// persist stamps and saves st, then refreshes its ledger row.
func (o *Orchestrator) persist(st *models.RunState) error {
	st.UpdatedAt = o.now()
	path, err := o.store.Save(*st)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	o.logger.Debug("state saved", zap.String("path", path), zap.String("phase", string(st.Phase)))

	if o.ledger != nil {
		if err := o.ledger.UpsertRun(models.SummaryOf(*st, path)); err != nil {
			o.logger.Warn("failed to update run ledger", zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) transitioned(from, to models.Phase) {
	if o.observer != nil {
		o.observer.Transition(from, to)
	}
}

// post runs a fire-and-forget channel message through the worker.
func (o *Orchestrator) post(ctx context.Context, label, prompt string) error {
	_, err := o.worker.Invoke(ctx, worker.Request{
		Label:   label,
		Prompt:  prompt,
		Timeout: o.timeouts.Post,
	})
	return err
}
