package runner

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/launch"
)

func TestProcExitCodeSuccess(t *testing.T) {
	p, err := startProc(launch.Spec{Name: "test", Args: []string{"sh", "-c", "exit 0"}})
	require.NoError(t, err)

	require.True(t, p.waitExit(clockwork.NewRealClock(), 5*time.Second))
	assert.False(t, p.isRunning())
	assert.Equal(t, 0, p.getExitCode())
}

func TestProcExitCodeError(t *testing.T) {
	p, err := startProc(launch.Spec{Name: "test", Args: []string{"sh", "-c", "exit 3"}})
	require.NoError(t, err)

	require.True(t, p.waitExit(clockwork.NewRealClock(), 5*time.Second))
	assert.Equal(t, 3, p.getExitCode())
}

func TestProcIsRunning(t *testing.T) {
	p, err := startProc(launch.Spec{Name: "test", Args: []string{"sleep", "30"}})
	require.NoError(t, err)
	defer p.kill()

	assert.True(t, p.isRunning())
	assert.Greater(t, p.pid(), 0)
}

func TestProcKillBlocksUntilReaped(t *testing.T) {
	p, err := startProc(launch.Spec{Name: "test", Args: []string{"sleep", "30"}})
	require.NoError(t, err)

	p.kill()
	assert.False(t, p.isRunning())
	assert.NotEqual(t, 0, p.getExitCode())
}

func TestStartProcBadBinary(t *testing.T) {
	_, err := startProc(launch.Spec{Name: "test", Args: []string{"/nonexistent/binary"}})
	assert.Error(t, err)
}

// fakeGroupProc simulates a process group with configurable responsiveness:
// it only dies when it receives dieOn.
type fakeGroupProc struct {
	mu      sync.Mutex
	signals []syscall.Signal
	dieOn   syscall.Signal
	done    chan struct{}
}

func newFakeGroupProc(dieOn syscall.Signal) *fakeGroupProc {
	return &fakeGroupProc{dieOn: dieOn, done: make(chan struct{})}
}

func (f *fakeGroupProc) signalGroup(sig syscall.Signal) error {
	f.mu.Lock()
	f.signals = append(f.signals, sig)
	die := sig == f.dieOn
	f.mu.Unlock()

	if die {
		close(f.done)
	}
	return nil
}

func (f *fakeGroupProc) waitExit(clock clockwork.Clock, timeout time.Duration) bool {
	if timeout == 0 {
		<-f.done
		return true
	}
	select {
	case <-f.done:
		return true
	case <-clock.After(timeout):
		return false
	}
}

func (f *fakeGroupProc) sentSignals() []syscall.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syscall.Signal(nil), f.signals...)
}

func newTestBackend(clock clockwork.Clock) *BackendRunner {
	return &BackendRunner{typ: BackendRobot, clock: clock, log: zerolog.Nop()}
}

func TestBackendKillRespondsToInterrupt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestBackend(clock)
	p := newFakeGroupProc(syscall.SIGINT)

	r.killGroup(p)

	assert.Equal(t, []syscall.Signal{syscall.SIGINT}, p.sentSignals())
}

func TestBackendKillEscalatesToTerm(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestBackend(clock)
	p := newFakeGroupProc(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		r.killGroup(p)
		close(done)
	}()

	// SIGINT is ignored; after the 10s window SIGTERM must follow.
	clock.BlockUntil(1)
	clock.Advance(intWait)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("killGroup did not return")
	}
	assert.Equal(t, []syscall.Signal{syscall.SIGINT, syscall.SIGTERM}, p.sentSignals())
}

func TestBackendKillEscalatesToKill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestBackend(clock)
	p := newFakeGroupProc(syscall.SIGKILL)

	done := make(chan struct{})
	go func() {
		r.killGroup(p)
		close(done)
	}()

	// Ignores SIGINT for the full 10s window, then SIGTERM for 3s more,
	// then the unconditional SIGKILL ends it.
	clock.BlockUntil(1)
	clock.Advance(intWait)
	clock.BlockUntil(1)
	clock.Advance(termWait)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("killGroup did not return")
	}
	assert.Equal(t,
		[]syscall.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGKILL},
		p.sentSignals())
}

func TestBackendKillRealProcessGroup(t *testing.T) {
	p, err := startProc(launch.Spec{
		Name:            "backend",
		Args:            []string{"sleep", "30"},
		NewProcessGroup: true,
	})
	require.NoError(t, err)

	r := newTestBackend(clockwork.NewRealClock())
	r.p = p
	r.Kill()

	assert.False(t, p.isRunning())
}
