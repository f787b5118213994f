package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/worker"
)

// RecordingWorker appends one ledger row per invocation of the wrapped
// worker. Ledger failures are logged and never fail the invocation.
type RecordingWorker struct {
	next   worker.Worker
	store  *Storage
	runID  string
	logger *zap.Logger
}

func Record(next worker.Worker, store *Storage, runID string, logger *zap.Logger) *RecordingWorker {
	return &RecordingWorker{
		next:   next,
		store:  store,
		runID:  runID,
		logger: logger.Named("ledger"),
	}
}

func (w *RecordingWorker) Invoke(ctx context.Context, req worker.Request) (worker.Result, error) {
	start := time.Now()
	res, err := w.next.Invoke(ctx, req)

	inv := &models.Invocation{
		RunID:     w.runID,
		Label:     req.Label,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
		Outcome:   worker.OutcomeOf(err),
	}
	if err != nil {
		inv.Error = err.Error()
	}
	if _, lerr := w.store.CreateInvocation(inv); lerr != nil {
		w.logger.Warn("failed to record invocation", zap.String("label", req.Label), zap.Error(lerr))
	}

	return res, err
}
