// Package state persists run state to disk so a run can be resumed after a
// crash or an operator interrupt.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mpataki/collab/internal/models"
)

const (
	filePrefix = "collab-state-"
	fileSuffix = ".json"
)

// ErrCorruptState is returned when a state file cannot be trusted.
var ErrCorruptState = errors.New("corrupt state file")

var requiredFields = []string{"run_id", "task", "phase"}

type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// PathForRun returns the canonical state file path for a run.
func (s *Store) PathForRun(runID string) string {
	return filepath.Join(s.dir, filePrefix+runID+fileSuffix)
}

// RunIDFromPath recovers the run id from a state file name. Names that do
// not follow the canonical pattern yield their stem.
func RunIDFromPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), fileSuffix)
	return strings.TrimPrefix(stem, filePrefix)
}

// IsStateFile reports whether path names a state file. Temp files left by
// an in-flight save do not count.
func IsStateFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, filePrefix) && strings.HasSuffix(base, fileSuffix)
}

// Save writes the state atomically and returns the path it was written to.
func (s *Store) Save(st models.RunState) (string, error) {
	if st.RunID == "" {
		return "", fmt.Errorf("save state: empty run id")
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}

	path := s.PathForRun(st.RunID)
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save state %s: %w", st.RunID, err)
	}
	return path, nil
}

// Load reads a state file. Missing required fields, malformed JSON, an
// unknown phase or a canonically named file holding another run's id make
// the whole file invalid.
func (s *Store) Load(path string) (models.RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RunState{}, fmt.Errorf("%w: read %s: %v", ErrCorruptState, path, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.RunState{}, fmt.Errorf("%w: parse %s: %v", ErrCorruptState, path, err)
	}

	var missing []string
	for _, key := range requiredFields {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return models.RunState{}, fmt.Errorf("%w: %s missing required fields: %s",
			ErrCorruptState, path, strings.Join(missing, ", "))
	}

	var st models.RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return models.RunState{}, fmt.Errorf("%w: decode %s: %v", ErrCorruptState, path, err)
	}
	if st.RunID == "" {
		return models.RunState{}, fmt.Errorf("%w: %s has an empty run_id", ErrCorruptState, path)
	}
	if !st.Phase.Valid() {
		return models.RunState{}, fmt.Errorf("%w: %s has unknown phase %q", ErrCorruptState, path, st.Phase)
	}
	if IsStateFile(path) && RunIDFromPath(path) != st.RunID {
		return models.RunState{}, fmt.Errorf("%w: %s holds run %q", ErrCorruptState, path, st.RunID)
	}
	if st.Threads.Stakeholders == nil {
		st.Threads.Stakeholders = map[string]string{}
	}

	return st, nil
}

func (s *Store) LoadRun(runID string) (models.RunState, error) {
	return s.Load(s.PathForRun(runID))
}
