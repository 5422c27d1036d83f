package runner

import (
	"github.com/rs/zerolog"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/control"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/launch"
)

// DataRunner controls the data recording node.
type DataRunner struct {
	cfg  *config.JobConfig
	ctrl *control.Client
	log  zerolog.Logger
	p    *proc
}

// NewDataRunner creates the runner for the data node.
func NewDataRunner(cfg *config.JobConfig, ctrl *control.Client, logger zerolog.Logger) *DataRunner {
	return &DataRunner{cfg: cfg, ctrl: ctrl, log: logger}
}

func (r *DataRunner) Kind() Kind {
	return KindData
}

// Start launches the data node.
func (r *DataRunner) Start() error {
	spec := launch.DataNode(r.cfg)
	r.log.Info().Msg("start data node")
	r.log.Debug().Str("cmd", spec.String()).Send()

	p, err := startProc(spec)
	if err != nil {
		return err
	}
	r.p = p
	return nil
}

func (r *DataRunner) IsRunning() bool {
	return r.p.isRunning()
}

func (r *DataRunner) ExitCode() int {
	return r.p.getExitCode()
}

func (r *DataRunner) Pid() int {
	if r.p == nil {
		return 0
	}
	return r.p.pid()
}

// RequestShutdown asks the data node to stop.  Fire-and-forget; eventual
// termination is observed through IsRunning.
func (r *DataRunner) RequestShutdown() {
	r.ctrl.RequestShutdown(string(KindData), r.cfg.DataControlURL)
}
