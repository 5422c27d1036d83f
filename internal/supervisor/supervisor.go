// Package supervisor monitors the processes of one job run and drives
// their ordered shutdown once any of them terminates.
package supervisor

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
)

const (
	// pollInterval is the fixed sleep between state samples.
	pollInterval = 3 * time.Second

	// gracePeriod is how long the user code may keep running after the
	// backend has stopped before it is killed.  The backend stopping
	// does not mean the user code has already had a chance to observe
	// that and stop by itself.
	gracePeriod = 10 * time.Second
)

// Shutdowner is a runner that accepts an asynchronous shutdown request.
type Shutdowner interface {
	runner.Runner
	RequestShutdown()
}

// Killer is a runner that can be terminated forcefully.
type Killer interface {
	runner.Runner
	Kill()
}

// Verdict is the final outcome of a supervised run.
type Verdict struct {
	Success         bool `json:"success"`
	BackendHadError bool `json:"backend_error"`
	UserExitCode    *int `json:"user_returncode,omitempty"`
}

// TransitionHook is called on every combined state change, after the state
// was updated but before the action runs.
type TransitionHook func(previous, current CombinedState)

// Supervisor owns the three runners after they have been started.
type Supervisor struct {
	data    Shutdowner
	backend Shutdowner
	user    Killer

	clock clockwork.Clock
	log   zerolog.Logger
	hooks []TransitionHook
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTransitionHook registers a hook invoked on every state transition.
func WithTransitionHook(h TransitionHook) Option {
	return func(s *Supervisor) { s.hooks = append(s.hooks, h) }
}

// New creates a supervisor for the three started runners.
func New(data, backend Shutdowner, user Killer, clock clockwork.Clock, logger zerolog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		data:    data,
		backend: backend,
		user:    user,
		clock:   clock,
		log:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) sample() CombinedState {
	return CombinedState{
		Data:    Classify(s.data),
		Backend: Classify(s.backend),
		User:    Classify(s.user),
	}
}

// Monitor samples the combined state until a terminal state is reached and
// returns the verdict.  Action is only taken when the sampled state
// differs from the previously acted-on one, so repeated samples of the
// same state trigger each action exactly once.
//
// Returns an InvariantError if a combined state outside the transition
// table is sampled; that is a fatal bug, not a recoverable condition.
func (s *Supervisor) Monitor(ctx context.Context) (Verdict, error) {
	s.log.Info().Msg("monitor nodes")

	previous := CombinedState{StateRunning, StateRunning, StateRunning}
	jobFailed := false

	for {
		select {
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		case <-s.clock.After(pollInterval):
		}

		state := s.sample()
		if state == previous {
			continue
		}

		s.log.Info().
			Stringer("from", previous).
			Stringer("to", state).
			Msg("state transition")

		for _, h := range s.hooks {
			h(previous, state)
		}
		previous = state

		r, ok := lookup(state)
		if !ok {
			return Verdict{}, &InvariantError{State: state}
		}

		if r.failure {
			jobFailed = true
		}

		s.log.Debug().Stringer("action", r.action).Send()

		switch r.action {
		case actionNone:

		case actionShutdownBackend:
			s.backend.RequestShutdown()

		case actionGraceKillUser:
			s.clock.Sleep(gracePeriod)
			s.user.Kill()

		case actionShutdownData:
			s.data.RequestShutdown()

		case actionKillUser:
			s.user.Kill()

		case actionTerminate:
			return s.verdict(state, jobFailed), nil
		}
	}
}

func (s *Supervisor) verdict(final CombinedState, jobFailed bool) Verdict {
	v := Verdict{
		Success:         !jobFailed,
		BackendHadError: Classify(s.backend) == StateTerminatedError,
	}
	if final.User.Terminated() {
		code := s.user.ExitCode()
		v.UserExitCode = &code
	}

	if v.Success {
		s.log.Info().Msg("done")
	} else {
		s.log.Error().Msg("finished with error")
	}
	return v
}
