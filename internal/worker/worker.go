// Package worker invokes the external agent process that does all of the
// workflow's intelligent work.
//
// One Invoke is one bounded request/response exchange. The package never
// retries: whether a failure is worth another attempt is the caller's call.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mpataki/collab/internal/models"
)

// AgentTeamsEnv flags an invocation as a long-running collaborative session.
const AgentTeamsEnv = "CLAUDE_CODE_EXPERIMENTAL_AGENT_TEAMS"

// Request describes a single worker invocation.
type Request struct {
	// Label names the call site for logs, metrics and the ledger.
	Label   string
	Prompt  string
	Schema  string
	Timeout time.Duration
	Env     map[string]string

	// SessionID starts a worker session with a known id; ResumeSessionID
	// continues one.
	SessionID       string
	ResumeSessionID string
}

// Worker is the capability the orchestrator needs from the agent process.
type Worker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, req Request) (Result, error)

func (f WorkerFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Result is the normalized payload of a worker response.
type Result map[string]any

// String returns the string at key, or "" when absent or not a string.
func (r Result) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

func (r Result) Bool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}

type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindExit      Kind = "exit"
	KindEmpty     Kind = "empty"
	KindMalformed Kind = "malformed"
	KindStart     Kind = "start"
)

// Error is a failed invocation. Every kind is terminal for the call.
type Error struct {
	Kind     Kind
	Label    string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("worker %s failed (%s)", e.Label, e.Kind)
	if e.Kind == KindExit {
		msg = fmt.Sprintf("%s with code %d", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// OutcomeOf classifies an invocation error for the ledger and metrics.
func OutcomeOf(err error) models.InvocationOutcome {
	if err == nil {
		return models.InvocationOK
	}
	var werr *Error
	if !errors.As(err, &werr) {
		return models.InvocationFailed
	}
	switch werr.Kind {
	case KindTimeout:
		return models.InvocationTimeout
	case KindExit:
		return models.InvocationExit
	case KindEmpty, KindMalformed:
		return models.InvocationMalformed
	default:
		return models.InvocationFailed
	}
}
