package orchestrator

import "errors"

var (
	// ErrPrecondition marks a setup result the run cannot proceed from.
	ErrPrecondition = errors.New("precondition failed")

	// ErrInvalidArtifact means a phase reported an artifact that does not
	// exist or is empty.
	ErrInvalidArtifact = errors.New("invalid artifact")

	// ErrUnexpectedResult means the worker answered with a status the phase
	// does not understand.
	ErrUnexpectedResult = errors.New("unexpected worker result")

	ErrUnknownPhase = errors.New("unknown phase")
)
