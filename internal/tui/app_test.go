package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/collab/internal/models"
)

type fakeLedger struct {
	runs    []*models.RunSummary
	invs    map[string][]*models.Invocation
	deleted []string
}

func (f *fakeLedger) ListRuns(int) ([]*models.RunSummary, error) { return f.runs, nil }

func (f *fakeLedger) GetRun(id string) (*models.RunSummary, error) {
	for _, r := range f.runs {
		if r.RunID == id {
			return r, nil
		}
	}
	return nil, errors.New("run not found")
}

func (f *fakeLedger) InvocationsForRun(id string) ([]*models.Invocation, error) {
	return f.invs[id], nil
}

func (f *fakeLedger) DeleteRun(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeStates map[string]models.RunState

func (f fakeStates) Load(path string) (models.RunState, error) {
	st, ok := f[path]
	if !ok {
		return models.RunState{}, errors.New("missing")
	}
	return st, nil
}

func newTestApp() (*App, *fakeLedger) {
	now := time.Now().UTC()
	ledger := &fakeLedger{
		runs: []*models.RunSummary{
			{RunID: "aaa111bbb222", Task: "Add rate limiting", Phase: models.PhaseExecute, StatePath: "/tmp/collab-state-aaa111bbb222.json", ChannelName: "collab-rate-limit", UpdatedAt: now},
			{RunID: "ccc333ddd444", Task: "Fix login\nwith details", Phase: models.PhaseDone, StatePath: "/tmp/collab-state-ccc333ddd444.json", UpdatedAt: now.Add(-time.Hour)},
		},
		invs: map[string][]*models.Invocation{
			"aaa111bbb222": {
				{Label: "setup", StartedAt: now, Duration: 3 * time.Second, Outcome: models.InvocationOK},
				{Label: "define", StartedAt: now, Duration: time.Minute, Outcome: models.InvocationTimeout, Error: "define timed out"},
			},
		},
	}
	states := fakeStates{
		"/tmp/collab-state-aaa111bbb222.json": {RunID: "aaa111bbb222", OwnerHandle: "@alice", PRURL: "https://github.com/org/repo/pull/1"},
	}
	return NewApp(ledger, states, nil), ledger
}

func update(t *testing.T, a *App, msg tea.Msg) tea.Cmd {
	t.Helper()
	_, cmd := a.Update(msg)
	return cmd
}

func TestApp_ListsRuns(t *testing.T) {
	a, _ := newTestApp()
	update(t, a, a.loadRuns())

	view := a.View()
	assert.Contains(t, view, "aaa111bbb222")
	assert.Contains(t, view, "collab-rate-limit")
	assert.Contains(t, view, "Fix login")
	assert.NotContains(t, view, "with details")
}

func TestApp_EmptyList(t *testing.T) {
	a := NewApp(&fakeLedger{}, nil, nil)
	update(t, a, a.loadRuns())
	assert.Contains(t, a.View(), "No runs yet")
}

func TestApp_EnterShowsDetail(t *testing.T) {
	a, _ := newTestApp()
	update(t, a, a.loadRuns())

	cmd := update(t, a, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	update(t, a, cmd())

	require.Equal(t, ViewRunDetail, a.view)
	view := a.View()
	assert.Contains(t, view, "Run aaa111bbb222")
	assert.Contains(t, view, "@alice")
	assert.Contains(t, view, "https://github.com/org/repo/pull/1")
	assert.Contains(t, view, "define timed out")

	update(t, a, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewRunList, a.view)
	assert.Nil(t, a.selectedRun)
}

func TestApp_DeleteForgetsSelectedRun(t *testing.T) {
	a, ledger := newTestApp()
	update(t, a, a.loadRuns())

	cmd := update(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)
	update(t, a, cmd())
	assert.Equal(t, []string{"aaa111bbb222"}, ledger.deleted)
}

func TestApp_StateChangeReloadsList(t *testing.T) {
	a, _ := newTestApp()
	cmd := update(t, a, stateChangedMsg{path: "/tmp/collab-state-aaa111bbb222.json"})
	assert.NotNil(t, cmd)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m5s", formatDuration(2*time.Minute+5*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "日本語日...", truncate("日本語日本語日本語", 7))
}
