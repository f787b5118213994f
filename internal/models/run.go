package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Channel struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type Stakeholder struct {
	Handle string `json:"handle" yaml:"handle"`
	Name   string `json:"name" yaml:"name"`
	Role   string `json:"role" yaml:"role"`
	IsQA   bool   `json:"is_qa,omitempty" yaml:"is_qa,omitempty"`
}

// Threads maps a stakeholder handle, or a "+"-joined combination of
// handles, to the reference of its conversation thread.
type Threads struct {
	Stakeholders map[string]string `json:"stakeholders" yaml:"stakeholders"`
}

// RunState is the persisted record of one workflow run.
type RunState struct {
	RunID string `json:"run_id" yaml:"run_id"`
	Task  string `json:"task" yaml:"task"`
	Phase Phase  `json:"phase" yaml:"phase"`

	Channel      Channel       `json:"channel" yaml:"channel"`
	OwnerHandle  string        `json:"owner_handle" yaml:"owner_handle"`
	Stakeholders []Stakeholder `json:"stakeholders" yaml:"stakeholders"`
	Threads      Threads       `json:"threads" yaml:"threads"`
	HasQA        bool          `json:"has_qa" yaml:"has_qa"`

	ManifestPath     string `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`
	DiscoveryLogPath string `json:"discovery_log_path,omitempty" yaml:"discovery_log_path,omitempty"`
	ExecuteLogPath   string `json:"execute_log_path,omitempty" yaml:"execute_log_path,omitempty"`
	PRURL            string `json:"pr_url,omitempty" yaml:"pr_url,omitempty"`

	// ReviewRevisions counts review rejections since the last escalation.
	ReviewRevisions int `json:"review_revisions,omitempty" yaml:"review_revisions,omitempty"`

	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// NewRunID returns a short opaque run identifier.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func NewRunState(task string) RunState {
	now := time.Now().UTC()
	return RunState{
		RunID:     NewRunID(),
		Task:      task,
		Phase:     PhaseSetup,
		Threads:   Threads{Stakeholders: map[string]string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so handlers can work on a private snapshot.
func (s RunState) Clone() RunState {
	c := s
	if s.Stakeholders != nil {
		c.Stakeholders = append([]Stakeholder(nil), s.Stakeholders...)
	}
	if s.Threads.Stakeholders != nil {
		c.Threads.Stakeholders = make(map[string]string, len(s.Threads.Stakeholders))
		for k, v := range s.Threads.Stakeholders {
			c.Threads.Stakeholders[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Configured reports whether setup has populated the collaboration space.
func (s RunState) Configured() bool {
	return s.Channel.ID != "" && len(s.Stakeholders) > 0
}

func (s RunState) QAStakeholders() []Stakeholder {
	var out []Stakeholder
	for _, sh := range s.Stakeholders {
		if sh.IsQA {
			out = append(out, sh)
		}
	}
	return out
}

func (s RunState) Reviewers() []Stakeholder {
	var out []Stakeholder
	for _, sh := range s.Stakeholders {
		if !sh.IsQA {
			out = append(out, sh)
		}
	}
	return out
}

// HasQAStakeholder derives has_qa from a stakeholder list.
func HasQAStakeholder(stakeholders []Stakeholder) bool {
	for _, sh := range stakeholders {
		if sh.IsQA {
			return true
		}
	}
	return false
}

// Handles joins the handles of the given stakeholders with spaces.
func Handles(stakeholders []Stakeholder) string {
	handles := make([]string, 0, len(stakeholders))
	for _, sh := range stakeholders {
		handles = append(handles, sh.Handle)
	}
	return strings.Join(handles, " ")
}
