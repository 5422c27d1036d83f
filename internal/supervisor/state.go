package supervisor

import (
	"fmt"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
)

// ProcessState is the coarse classified state of one supervised process.
// It is always derived from liveness and exit code, never set directly, and
// a process that was observed terminated never goes back to running.
type ProcessState string

const (
	StateRunning           ProcessState = "running"
	StateTerminatedSuccess ProcessState = "terminated_success"
	StateTerminatedError   ProcessState = "terminated_error"

	// StateTerminated is the normalized "terminated, no matter how" tag.
	// It only appears in transition table patterns, never in sampled
	// states.
	StateTerminated ProcessState = "terminated"
)

// Terminated reports whether the state is one of the terminated variants.
func (s ProcessState) Terminated() bool {
	return s == StateTerminatedSuccess || s == StateTerminatedError || s == StateTerminated
}

// normalize folds the success/error distinction into the single terminated
// tag.  Patterns containing StateTerminated are matched against normalized
// sampled states.
func normalize(s ProcessState) ProcessState {
	if s == StateTerminatedSuccess || s == StateTerminatedError {
		return StateTerminated
	}
	return s
}

// Classify derives the process state of a runner from its current liveness
// and, once terminated, its exit code.
func Classify(r runner.Runner) ProcessState {
	if r.IsRunning() {
		return StateRunning
	}
	if r.ExitCode() == 0 {
		return StateTerminatedSuccess
	}
	return StateTerminatedError
}

// CombinedState is the state triple of all supervised nodes.
type CombinedState struct {
	Data    ProcessState
	Backend ProcessState
	User    ProcessState
}

func (c CombinedState) String() string {
	return fmt.Sprintf("(data: %s, backend: %s, user: %s)", c.Data, c.Backend, c.User)
}

// matches reports whether the sampled state matches the pattern, treating
// StateTerminated entries in the pattern as wildcards over both terminated
// variants.
func (c CombinedState) matches(pattern CombinedState) bool {
	return matchState(pattern.Data, c.Data) &&
		matchState(pattern.Backend, c.Backend) &&
		matchState(pattern.User, c.User)
}

func matchState(pattern, sampled ProcessState) bool {
	if pattern == StateTerminated {
		return normalize(sampled) == StateTerminated
	}
	return pattern == sampled
}
