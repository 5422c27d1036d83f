package supervisor

import (
	"fmt"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
)

// NodeTimeoutError indicates that a node did not signal readiness within
// its timeout.  Fatal: the job is aborted before monitoring starts.
type NodeTimeoutError struct {
	Node runner.Kind
}

func (e *NodeTimeoutError) Error() string {
	return fmt.Sprintf("%s node did not become ready in time", e.Node)
}

// NodeUnexpectedTerminationError indicates that a node died before
// signaling readiness.  Fatal: the job is aborted before monitoring starts.
type NodeUnexpectedTerminationError struct {
	Node     runner.Kind
	ExitCode int
}

func (e *NodeUnexpectedTerminationError) Error() string {
	return fmt.Sprintf("%s node terminated unexpectedly (exit code %d)", e.Node, e.ExitCode)
}

// InvariantError indicates that the monitor sampled a combined state the
// transition table does not cover.  This means a bug in the table or the
// classifier and must never be absorbed silently.
type InvariantError struct {
	State CombinedState
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("unexpected combined state %s", e.State)
}
