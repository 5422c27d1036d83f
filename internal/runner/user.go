package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/launch"
)

// UserCodeRunner controls the user workload process.
type UserCodeRunner struct {
	cfg   *config.JobConfig
	wsDir string
	goal  string
	log   zerolog.Logger
	p     *proc
}

// NewUserCodeRunner creates the runner for the user code.  goal is the
// JSON-encoded goal passed to the user's run script (may be empty).
func NewUserCodeRunner(cfg *config.JobConfig, wsDir, goal string, logger zerolog.Logger) *UserCodeRunner {
	return &UserCodeRunner{cfg: cfg, wsDir: wsDir, goal: goal, log: logger}
}

func (r *UserCodeRunner) Kind() Kind {
	return KindUser
}

// Start launches the user code with stdout/stderr captured to the output
// directory.  The user output subdirectory is created if needed.
func (r *UserCodeRunner) Start() error {
	userOutputDir := filepath.Join(r.cfg.HostOutputDir, "user")
	if err := os.MkdirAll(userOutputDir, 0o755); err != nil {
		return fmt.Errorf("create user output directory: %w", err)
	}

	spec := launch.UserCode(r.cfg, r.wsDir, userOutputDir, r.goal)
	r.log.Info().Msg("run the user code")
	r.log.Debug().Str("cmd", spec.String()).Send()

	p, err := startProc(spec)
	if err != nil {
		return err
	}
	r.p = p
	return nil
}

func (r *UserCodeRunner) IsRunning() bool {
	return r.p.isRunning()
}

func (r *UserCodeRunner) ExitCode() int {
	return r.p.getExitCode()
}

func (r *UserCodeRunner) Pid() int {
	if r.p == nil {
		return 0
	}
	return r.p.pid()
}

// Kill terminates the user code unconditionally and blocks until the
// process has been reaped.
func (r *UserCodeRunner) Kill() {
	r.log.Info().Msg("kill user code")
	r.p.kill()

	if code := r.p.getExitCode(); code == 0 {
		r.log.Info().Msg("user code terminated")
	} else {
		r.log.Error().Int("exit_code", code).Msg("user code exited with non-zero exit status")
	}
}
