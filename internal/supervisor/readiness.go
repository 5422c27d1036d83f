package supervisor

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
)

// gatePollInterval bounds how long the gate blocks between checks when no
// readiness signal arrives.
const gatePollInterval = 3 * time.Second

// Gate blocks until a node announces readiness, the node dies first or a
// timeout elapses.  It only consumes the current value of the readiness
// predicate; signal delivery belongs to the control package.
type Gate struct {
	clock   clockwork.Clock
	log     zerolog.Logger
	timeout time.Duration
}

// NewGate creates a readiness gate with the given timeout.  Zero means the
// default node ready timeout.
func NewGate(clock clockwork.Clock, timeout time.Duration, logger zerolog.Logger) *Gate {
	if timeout == 0 {
		timeout = runner.ReadyTimeout
	}
	return &Gate{clock: clock, log: logger, timeout: timeout}
}

// WaitUntilReady polls ready until it returns true.  notify may deliver a
// wakeup when the readiness signal arrives so the gate does not have to sit
// out the full poll interval; it may be nil.
//
// Fails with NodeUnexpectedTerminationError if the node dies first and
// with NodeTimeoutError when the timeout expires.  Both are fatal to the
// job.
func (g *Gate) WaitUntilReady(ctx context.Context, r runner.Runner, ready func() bool, notify <-chan struct{}) error {
	start := g.clock.Now()

	for {
		if ready() {
			g.log.Info().Str("node", string(r.Kind())).Msg("node ready")
			return nil
		}
		if !r.IsRunning() {
			return &NodeUnexpectedTerminationError{Node: r.Kind(), ExitCode: r.ExitCode()}
		}
		if g.clock.Since(start) > g.timeout {
			return &NodeTimeoutError{Node: r.Kind()}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		case <-g.clock.After(gatePollInterval):
		}
	}
}
