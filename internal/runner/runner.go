// Package runner wraps the external processes of one job run.  Each runner
// owns exactly one process: it is started once, never restarted, and
// destroyed with the job.  The supervisor only ever touches processes
// through the Runner interface.
package runner

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/launch"
)

// Kind identifies which of the supervised processes a runner controls.
type Kind string

const (
	KindData    Kind = "data"
	KindBackend Kind = "backend"
	KindUser    Kind = "user"
)

// ReadyTimeout is how long the data and backend nodes may take to signal
// readiness after being started.
const ReadyTimeout = 60 * time.Second

// Runner is the supervisor-facing handle of one supervised process.
type Runner interface {
	// Kind identifies the process.
	Kind() Kind

	// Start launches the process.  It must not block beyond spawn time.
	Start() error

	// IsRunning polls the process without blocking.  Once it has
	// returned false, ExitCode is valid.
	IsRunning() bool

	// ExitCode returns the last observed exit code.  Only valid after
	// IsRunning has returned false at least once.
	ExitCode() int

	// Pid returns the process id, or 0 before Start.
	Pid() int
}

// proc is the shared process handle behind all runner kinds.  A reaper
// goroutine performs the blocking Wait and publishes the exit code; all
// polling is a non-blocking check against the done channel.
type proc struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int

	closers []*os.File
}

// startProc launches the process described by spec.
func startProc(spec launch.Spec) (*proc, error) {
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)

	if spec.NewProcessGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	p := &proc{done: make(chan struct{})}

	switch {
	case spec.StdoutFile != "" || spec.StderrFile != "":
		stdout, err := os.Create(spec.StdoutFile)
		if err != nil {
			return nil, fmt.Errorf("open stdout file: %w", err)
		}
		stderr, err := os.Create(spec.StderrFile)
		if err != nil {
			stdout.Close()
			return nil, fmt.Errorf("open stderr file: %w", err)
		}
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		p.closers = append(p.closers, stdout, stderr)
	case spec.CombineOutput:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stdout
	default:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		for _, f := range p.closers {
			f.Close()
		}
		return nil, fmt.Errorf("start %s process: %w", spec.Name, err)
	}

	p.cmd = cmd
	go p.reap()
	return p, nil
}

// reap waits for the process and records its exit code.
func (p *proc) reap() {
	err := p.cmd.Wait()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()

	for _, f := range p.closers {
		f.Close()
	}
	close(p.done)
}

func (p *proc) isRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *proc) getExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *proc) pid() int {
	return p.cmd.Process.Pid
}

// waitExit blocks until the process has exited or the timeout elapsed.  A
// zero timeout waits unconditionally.
func (p *proc) waitExit(clock clockwork.Clock, timeout time.Duration) bool {
	if timeout == 0 {
		<-p.done
		return true
	}
	select {
	case <-p.done:
		return true
	case <-clock.After(timeout):
		return false
	}
}

// signalGroup sends sig to the whole process group of the process.
func (p *proc) signalGroup(sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(p.pid())
	if err != nil {
		return fmt.Errorf("get process group: %w", err)
	}
	return syscall.Kill(-pgid, sig)
}

// kill forcefully terminates the process and blocks until it is reaped.
func (p *proc) kill() {
	p.cmd.Process.Kill()
	<-p.done
}
