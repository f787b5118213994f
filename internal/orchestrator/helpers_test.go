package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/approval"
	"github.com/mpataki/collab/internal/config"
	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/poll"
	"github.com/mpataki/collab/internal/state"
	"github.com/mpataki/collab/internal/worker"
)

// maxCalls stops a broken test from polling forever.
const maxCalls = 200

type reply struct {
	res worker.Result
	err error
}

func ok(res worker.Result) reply { return reply{res: res} }

func fail(kind worker.Kind) reply {
	return reply{err: &worker.Error{Kind: kind, Label: "scripted", ExitCode: 1}}
}

// scriptedWorker answers each label from its own queue. Unscripted labels
// get an empty result, which is what fire-and-forget posts expect.
type scriptedWorker struct {
	mu     sync.Mutex
	script map[string][]reply
	calls  []worker.Request
}

func newScriptedWorker() *scriptedWorker {
	return &scriptedWorker{script: map[string][]reply{}}
}

func (w *scriptedWorker) on(label string, replies ...reply) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.script[label] = append(w.script[label], replies...)
}

func (w *scriptedWorker) Invoke(ctx context.Context, req worker.Request) (worker.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.calls = append(w.calls, req)
	if len(w.calls) > maxCalls {
		return nil, &worker.Error{Kind: worker.KindStart, Label: req.Label}
	}

	q := w.script[req.Label]
	if len(q) == 0 {
		return worker.Result{}, nil
	}
	w.script[req.Label] = q[1:]
	return q[0].res, q[0].err
}

func (w *scriptedWorker) labels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.calls))
	for i, c := range w.calls {
		out[i] = c.Label
	}
	return out
}

func (w *scriptedWorker) callsFor(label string) []worker.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []worker.Request
	for _, c := range w.calls {
		if c.Label == label {
			out = append(out, c)
		}
	}
	return out
}

type recordingLedger struct {
	runs []models.RunSummary
	err  error
}

func (l *recordingLedger) UpsertRun(run models.RunSummary) error {
	l.runs = append(l.runs, run)
	return l.err
}

type harness struct {
	o      *Orchestrator
	worker *scriptedWorker
	store  *state.Store
	ledger *recordingLedger
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	w := newScriptedWorker()
	noSleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	p := poll.New(w, time.Minute, time.Minute, zap.NewNop(), poll.WithSleep(noSleep))
	store := state.New(dir)
	ledger := &recordingLedger{}

	o := New(Deps{
		Worker:  w,
		Replies: p,
		Policy:  approval.New(p, approval.DefaultMaxAttempts, nil, zap.NewNop()),
		Store:   store,
		Ledger:  ledger,
		Timeouts: config.Timeouts{
			Setup: time.Minute, Define: time.Minute, Execute: time.Minute,
			Poll: time.Minute, Post: time.Minute, Fix: time.Minute, PR: time.Minute,
		},
		Logger: zap.NewNop(),
	})

	return &harness{o: o, worker: w, store: store, ledger: ledger, dir: dir}
}

func (h *harness) file(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (h *harness) load(t *testing.T, runID string) models.RunState {
	t.Helper()
	st, err := h.store.LoadRun(runID)
	require.NoError(t, err)
	return st
}

// configuredState is a run that has been through setup.
func configuredState(phase models.Phase, hasQA bool) models.RunState {
	st := models.NewRunState("Add rate limiting to the API")
	st.Phase = phase
	st.Channel = models.Channel{ID: "C12345", Name: "collab-rate-limit-20260226"}
	st.OwnerHandle = "@alice"
	st.Stakeholders = []models.Stakeholder{
		{Handle: "@alice", Name: "Alice", Role: "backend"},
		{Handle: "@bob", Name: "Bob", Role: "frontend"},
	}
	if hasQA {
		st.Stakeholders = append(st.Stakeholders, models.Stakeholder{Handle: "@carol", Name: "Carol", Role: "QA", IsQA: true})
	}
	st.Threads.Stakeholders = map[string]string{
		"@alice": "1234567890.000001",
		"@bob":   "1234567890.000002",
	}
	st.HasQA = hasQA
	return st
}

func setupResult() worker.Result {
	return worker.Result{
		"slack_mcp_available": true,
		"channel_id":          "C12345",
		"channel_name":        "collab-rate-limit-20260226",
		"owner_handle":        "@alice",
		"stakeholders": []any{
			map[string]any{"handle": "@alice", "name": "Alice", "role": "backend"},
			map[string]any{"handle": "@carol", "name": "Carol", "role": "QA", "is_qa": true},
		},
		"threads": map[string]any{
			"stakeholders": map[string]any{"@alice": "1.1", "@carol": "1.2"},
		},
	}
}
