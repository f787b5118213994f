package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/approval"
	"github.com/mpataki/collab/internal/config"
	"github.com/mpataki/collab/internal/logging"
	"github.com/mpataki/collab/internal/metrics"
	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/orchestrator"
	"github.com/mpataki/collab/internal/poll"
	"github.com/mpataki/collab/internal/state"
	"github.com/mpataki/collab/internal/storage"
	"github.com/mpataki/collab/internal/worker"
)

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <task>",
		Short: "Start a new collaboration run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return startRun(cmd, args[0])
		},
	}
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <state-file>",
		Short: "Resume a run at its recorded phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			path := args[0]
			runID := state.RunIDFromPath(path)

			// The log opens before the state loads so load failures are
			// recorded next to the run they belong to.
			logger, closeLog, err := logging.New(logging.Options{
				Path:    logging.PathForRun(cfg.LogDir, runID),
				Verbose: cfg.Verbose,
			})
			if err != nil {
				return err
			}
			defer closeLog()

			store := state.New(filepath.Dir(path))
			st, err := store.Load(path)
			if err != nil {
				logger.Error("cannot resume", zap.String("path", path), zap.Error(err))
				return err
			}

			logger.Info("resuming run",
				zap.String("run_id", st.RunID),
				zap.String("phase", string(st.Phase)))
			return runWorkflow(cmd.Context(), cfg, store, st, logger)
		},
	}
}

func startRun(cmd *cobra.Command, task string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st := models.NewRunState(task)
	logger, closeLog, err := logging.New(logging.Options{
		Path:    logging.PathForRun(cfg.LogDir, st.RunID),
		Verbose: cfg.Verbose,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("starting run", zap.String("run_id", st.RunID), zap.String("task", task))
	return runWorkflow(cmd.Context(), cfg, state.New(cfg.StateDir), st, logger)
}

// runWorkflow wires the worker stack and drives st to completion. On
// failure it prints how to resume.
func runWorkflow(parent context.Context, cfg *config.Config, store *state.Store, st models.RunState, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var w worker.Worker = worker.NewCLI(cfg.WorkerBinary, cfg.WorkerDir, logger)

	var ledger orchestrator.Ledger
	db, err := storage.New(cfg.LedgerPath)
	if err != nil {
		logger.Warn("run ledger unavailable, continuing without it",
			zap.String("path", cfg.LedgerPath), zap.Error(err))
	} else {
		defer db.Close()
		ledger = db
		w = storage.Record(w, db, st.RunID, logger)
	}
	w = metrics.Instrument(w, m)

	poller := poll.New(w, cfg.PollInterval, cfg.Timeouts.Poll, logger, poll.WithObserver(m))
	orch := orchestrator.New(orchestrator.Deps{
		Worker:   w,
		Replies:  poller,
		Policy:   approval.New(poller, cfg.MaxFixAttempts, m, logger),
		Store:    store,
		Ledger:   ledger,
		Observer: m,
		Timeouts: cfg.Timeouts,
		Logger:   logger,
	})

	statePath := store.PathForRun(st.RunID)
	logger.Info("state file", zap.String("path", statePath))

	final, runErr := orch.Run(ctx, st)

	if cfg.MetricsPath != "" {
		if err := m.WriteTextfile(cfg.MetricsPath); err != nil {
			logger.Warn("failed to write metrics", zap.Error(err))
		}
	}

	if runErr != nil {
		if ctx.Err() != nil {
			logger.Warn("interrupted", zap.String("phase", string(final.Phase)))
		} else {
			logger.Error("run failed", zap.String("phase", string(final.Phase)), zap.Error(runErr))
		}
		fmt.Fprintf(os.Stderr, "\nResume with: collab resume %s\n", statePath)
		return runErr
	}

	fmt.Printf("Workflow complete. State file: %s\n", statePath)
	return nil
}
