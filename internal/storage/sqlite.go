package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mpataki/collab/internal/models"
)

// ErrNotFound is returned when a run is not in the ledger.
var ErrNotFound = errors.New("run not found")

// Storage is the run ledger: an index of runs and the worker invocations
// they made. State files stay the source of truth for resuming.
type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between the TUI and a running run.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		phase TEXT NOT NULL,
		state_path TEXT NOT NULL,
		channel_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		label TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_updated ON runs(updated_at);
	CREATE INDEX IF NOT EXISTS idx_invocations_run ON invocations(run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// UpsertRun inserts a run or refreshes its row.
func (s *Storage) UpsertRun(run models.RunSummary) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, task, phase, state_path, channel_name, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			task = excluded.task,
			phase = excluded.phase,
			state_path = excluded.state_path,
			channel_name = excluded.channel_name,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		run.RunID, run.Task, string(run.Phase), run.StatePath, run.ChannelName,
		run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	return err
}

const runColumns = `run_id, task, phase, state_path, channel_name, created_at, updated_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.RunSummary, error) {
	var run models.RunSummary
	var phase string
	var completedAt sql.NullTime

	err := row.Scan(
		&run.RunID, &run.Task, &phase, &run.StatePath, &run.ChannelName,
		&run.CreatedAt, &run.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Phase = models.Phase(phase)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func (s *Storage) GetRun(runID string) (*models.RunSummary, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return run, err
}

func (s *Storage) ListRuns(limit int) ([]*models.RunSummary, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) CreateInvocation(inv *models.Invocation) (int64, error) {
	var errText *string
	if inv.Error != "" {
		errText = &inv.Error
	}

	result, err := s.db.Exec(
		`INSERT INTO invocations (run_id, label, started_at, duration_ms, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		inv.RunID, inv.Label, inv.StartedAt, inv.Duration.Milliseconds(), string(inv.Outcome), errText,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) InvocationsForRun(runID string) ([]*models.Invocation, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, label, started_at, duration_ms, outcome, error
		 FROM invocations WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []*models.Invocation
	for rows.Next() {
		var inv models.Invocation
		var durationMS int64
		var outcome string
		var errText sql.NullString

		if err := rows.Scan(&inv.ID, &inv.RunID, &inv.Label, &inv.StartedAt, &durationMS, &outcome, &errText); err != nil {
			return nil, err
		}

		inv.Duration = time.Duration(durationMS) * time.Millisecond
		inv.Outcome = models.InvocationOutcome(outcome)
		if errText.Valid {
			inv.Error = errText.String
		}
		invs = append(invs, &inv)
	}

	return invs, rows.Err()
}

// DeleteRun removes a run and its invocations from the ledger. The state
// file is left alone.
func (s *Storage) DeleteRun(runID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM invocations WHERE run_id = ?`, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return err
	}

	return tx.Commit()
}

// FormatTimeAgo renders t relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
