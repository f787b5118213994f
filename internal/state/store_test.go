package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/collab/internal/models"
)

func sampleState() models.RunState {
	s := models.NewRunState("Add rate limiting to the API")
	s.RunID = "abc123def456"
	s.Channel = models.Channel{ID: "C12345", Name: "collab-rate-limit-20260226"}
	s.OwnerHandle = "@alice"
	s.Stakeholders = []models.Stakeholder{
		{Handle: "@alice", Name: "Alice", Role: "backend"},
		{Handle: "@bob", Name: "Bob", Role: "frontend"},
		{Handle: "@carol", Name: "Carol", Role: "QA", IsQA: true},
	}
	s.Threads.Stakeholders = map[string]string{
		"@alice":      "1234567890.000001",
		"@bob":        "1234567890.000002",
		"@carol":      "1234567890.000003",
		"@alice+@bob": "1234567890.000004",
	}
	s.HasQA = true
	return s
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	s := sampleState()
	s.Phase = models.PhaseIntegrate
	s.ManifestPath = "/tmp/manifest-123.md"
	s.PRURL = "https://github.com/org/repo/pull/42"
	s.ReviewRevisions = 2

	path, err := store.Save(s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "collab-state-abc123def456.json"), path)

	loaded, err := store.Load(path)
	require.NoError(t, err)

	// Timestamps lose their monotonic reading on the way through JSON.
	assert.True(t, s.CreatedAt.Equal(loaded.CreatedAt))
	assert.True(t, s.UpdatedAt.Equal(loaded.UpdatedAt))
	loaded.CreatedAt, loaded.UpdatedAt = s.CreatedAt, s.UpdatedAt
	assert.Equal(t, s, loaded)
}

func TestLoadRun_UsesRunID(t *testing.T) {
	store := New(t.TempDir())
	s := sampleState()
	_, err := store.Save(s)
	require.NoError(t, err)

	loaded, err := store.LoadRun(s.RunID)
	require.NoError(t, err)
	assert.Equal(t, s.Task, loaded.Task)
	assert.Equal(t, "C12345", loaded.Channel.ID)
}

func TestSave_LeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	for i := 0; i < 3; i++ {
		_, err := store.Save(sampleState())
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "collab-state-abc123def456.json", entries[0].Name())
}

func TestSave_EmptyRunID(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Save(models.RunState{Task: "x", Phase: models.PhaseSetup})
	assert.Error(t, err)
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"invalid json", write("bad.json", "not json {{{")},
		{"missing fields", write("incomplete.json", `{"run_id": "x"}`)},
		{"missing phase", write("nophase.json", `{"run_id": "x", "task": "t"}`)},
		{"unknown phase", write("phase.json", `{"run_id": "x", "task": "t", "phase": "preflight"}`)},
		{"empty run id", write("empty.json", `{"run_id": "", "task": "t", "phase": "setup"}`)},
		{"run id mismatch", write("collab-state-aaa111.json", `{"run_id": "bbb222", "task": "t", "phase": "setup"}`)},
		{"missing file", filepath.Join(dir, "nonexistent.json")},
	}

	store := New(dir)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Load(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorruptState)
		})
	}
}

func TestLoad_MinimalFileDefaultsThreads(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "collab-state-r1.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"run_id": "r1", "task": "t", "phase": "define"}`), 0o644))

	s, err := New(dir).Load(p)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDefine, s.Phase)
	assert.NotNil(t, s.Threads.Stakeholders)
}

func TestRunIDFromPath(t *testing.T) {
	assert.Equal(t, "abc123", RunIDFromPath("/tmp/collab-state-abc123.json"))
	assert.Equal(t, "custom", RunIDFromPath("custom.json"))
}

func TestIsStateFile(t *testing.T) {
	assert.True(t, IsStateFile("/tmp/collab-state-abc123.json"))
	assert.False(t, IsStateFile("/tmp/.collab-state-123.tmp"))
	assert.False(t, IsStateFile("/tmp/collab-log-abc123.log"))
}

func TestLoad_RenamedCopyKeepsItsRunID(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "backup.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"run_id": "abc123", "task": "t", "phase": "review"}`), 0o644))

	st, err := New(dir).Load(p)
	require.NoError(t, err)
	assert.Equal(t, "abc123", st.RunID)
}
