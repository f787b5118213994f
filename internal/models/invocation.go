package models

import "time"

type InvocationOutcome string

const (
	InvocationOK        InvocationOutcome = "ok"
	InvocationTimeout   InvocationOutcome = "timeout"
	InvocationExit      InvocationOutcome = "exit"
	InvocationMalformed InvocationOutcome = "malformed"
	InvocationFailed    InvocationOutcome = "failed"
)

// Invocation is one recorded call to the worker process.
type Invocation struct {
	ID        int64
	RunID     string
	Label     string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   InvocationOutcome
	Error     string
}

// RunSummary is the ledger's view of a run, kept in step with its state file.
type RunSummary struct {
	RunID       string
	Task        string
	Phase       Phase
	StatePath   string
	ChannelName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func SummaryOf(s RunState, statePath string) RunSummary {
	return RunSummary{
		RunID:       s.RunID,
		Task:        s.Task,
		Phase:       s.Phase,
		StatePath:   statePath,
		ChannelName: s.Channel.Name,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		CompletedAt: s.CompletedAt,
	}
}
