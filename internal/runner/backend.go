package runner

import (
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/control"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/launch"
)

// BackendType selects which robot backend flavor is launched.
type BackendType string

const (
	BackendRobot      BackendType = "robot"
	BackendSimulation BackendType = "simulation"
	BackendLogReplay  BackendType = "log-replay"
)

// Wait windows of the kill escalation.  Each harder signal is only sent if
// the previous one did not produce termination within its window.
const (
	intWait  = 10 * time.Second
	termWait = 3 * time.Second
)

// BackendRunner controls the robot backend node, in any of its flavors.
type BackendRunner struct {
	typ   BackendType
	cfg   *config.JobConfig
	ctrl  *control.Client
	clock clockwork.Clock
	log   zerolog.Logger
	p     *proc

	// log replay input files, only used for BackendLogReplay
	robotLog, cameraLog string
}

// NewBackendRunner creates the runner for the given backend flavor.
func NewBackendRunner(typ BackendType, cfg *config.JobConfig, ctrl *control.Client, clock clockwork.Clock, logger zerolog.Logger) *BackendRunner {
	return &BackendRunner{typ: typ, cfg: cfg, ctrl: ctrl, clock: clock, log: logger}
}

// SetReplayLogs sets the input log files for the log replay backend.
func (r *BackendRunner) SetReplayLogs(robotLog, cameraLog string) {
	r.robotLog = robotLog
	r.cameraLog = cameraLog
}

func (r *BackendRunner) Kind() Kind {
	return KindBackend
}

// Start launches the backend process as leader of a new process group.
func (r *BackendRunner) Start() error {
	var spec launch.Spec
	switch r.typ {
	case BackendSimulation:
		spec = launch.SimulationBackend(r.cfg)
	case BackendLogReplay:
		spec = launch.LogReplayBackend(r.cfg, r.robotLog, r.cameraLog)
	default:
		spec = launch.RobotBackend(r.cfg)
	}

	r.log.Info().Str("backend_type", string(r.typ)).Msg("start robot backend")
	r.log.Debug().Str("cmd", spec.String()).Send()

	p, err := startProc(spec)
	if err != nil {
		return err
	}
	r.p = p
	return nil
}

func (r *BackendRunner) IsRunning() bool {
	return r.p.isRunning()
}

func (r *BackendRunner) ExitCode() int {
	return r.p.getExitCode()
}

func (r *BackendRunner) Pid() int {
	if r.p == nil {
		return 0
	}
	return r.p.pid()
}

// RequestShutdown asks the backend to stop.  Fire-and-forget.
func (r *BackendRunner) RequestShutdown() {
	r.ctrl.RequestShutdown(string(KindBackend), r.cfg.BackendControlURL)
}

// Kill forcefully terminates the backend.  The backend spawns several
// subprocesses of its own, so signals go to the whole process group;
// otherwise some of them keep running in the background.  Escalates from
// SIGINT over SIGTERM to SIGKILL, with each harder signal only sent if the
// process survived the previous window.
func (r *BackendRunner) Kill() {
	r.killGroup(r.p)
}

// groupProc is the part of the process handle the escalation needs.  Split
// out so tests can drive it against a non-responsive fake.
type groupProc interface {
	signalGroup(sig syscall.Signal) error
	waitExit(clock clockwork.Clock, timeout time.Duration) bool
}

func (r *BackendRunner) killGroup(p groupProc) {
	r.log.Info().Msg("backend still running, send SIGINT")
	if err := p.signalGroup(syscall.SIGINT); err != nil {
		r.log.Warn().Err(err).Msg("failed to signal backend process group")
	}
	if p.waitExit(r.clock, intWait) {
		return
	}

	r.log.Warn().Msg("backend still running, send SIGTERM")
	if err := p.signalGroup(syscall.SIGTERM); err != nil {
		r.log.Warn().Err(err).Msg("failed to signal backend process group")
	}
	if p.waitExit(r.clock, termWait) {
		return
	}

	r.log.Error().Msg("backend still running, send SIGKILL")
	if err := p.signalGroup(syscall.SIGKILL); err != nil {
		r.log.Warn().Err(err).Msg("failed to signal backend process group")
	}
	p.waitExit(r.clock, 0)
}
