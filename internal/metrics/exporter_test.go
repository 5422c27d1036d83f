package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/supervisor"
)

type stubRunner struct {
	kind    runner.Kind
	running bool
}

func (s *stubRunner) Kind() runner.Kind { return s.kind }
func (s *stubRunner) Start() error      { return nil }
func (s *stubRunner) IsRunning() bool   { return s.running }
func (s *stubRunner) ExitCode() int     { return 0 }
func (s *stubRunner) Pid() int          { return 0 }

func newTestExporter() *Exporter {
	return NewExporter(clockwork.NewFakeClock(), zerolog.Nop(),
		&stubRunner{kind: runner.KindData, running: true},
		&stubRunner{kind: runner.KindBackend, running: true},
		&stubRunner{kind: runner.KindUser, running: true})
}

func TestServeHTTPExposesMetrics(t *testing.T) {
	e := newTestExporter()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, "text/plain; version=0.0.4", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "trifinger_job_uptime_seconds")
	assert.Contains(t, body, "trifinger_node_state")
	assert.Contains(t, body, `node="data"`)
}

func TestObserveTransition(t *testing.T) {
	e := newTestExporter()

	from := supervisor.CombinedState{
		Data:    supervisor.StateRunning,
		Backend: supervisor.StateRunning,
		User:    supervisor.StateRunning,
	}
	to := supervisor.CombinedState{
		Data:    supervisor.StateRunning,
		Backend: supervisor.StateTerminatedError,
		User:    supervisor.StateRunning,
	}
	e.ObserveTransition(from, to)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "trifinger_state_transitions_total 1")
	assert.Contains(t, body, `trifinger_node_state{node="backend"} 2`)
	assert.Contains(t, body, `trifinger_node_state{node="user"} 0`)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewExporter(clock, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Second)
		close(done)
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSampleSkipsStoppedRunners(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewExporter(clock, zerolog.Nop(), &stubRunner{kind: runner.KindData, running: false})

	// must not touch the process table for a stopped runner
	require.NotPanics(t, e.sample)
}
