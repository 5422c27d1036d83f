// Package job orchestrates one full run: preparing the workspace, starting
// the three nodes in order, supervising them and writing the result files.
package job

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/actions"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/control"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/history"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/metrics"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/supervisor"
)

const metricsSampleInterval = 5 * time.Second

// Options configure a job beyond the submission config itself.
type Options struct {
	BackendType runner.BackendType

	// Log files replayed by the log-replay backend.
	ReplayRobotLog  string
	ReplayCameraLog string

	// Address of the metrics endpoint.  Empty disables metrics.
	MetricsAddr string

	// Path of the history database.  Empty disables history.
	HistoryDB string
}

// Job runs one submission from preparation to report.
type Job struct {
	cfg   *config.JobConfig
	opts  Options
	clock clockwork.Clock
	log   zerolog.Logger
}

func New(cfg *config.JobConfig, opts Options, clock clockwork.Clock, logger zerolog.Logger) *Job {
	return &Job{cfg: cfg, opts: opts, clock: clock, log: logger}
}

// Run executes the job.  The returned verdict is only meaningful when the
// error is nil.  Fatal errors are additionally recorded in an error report
// in the output directory so the submission system can pick them up.
func (j *Job) Run(ctx context.Context) (supervisor.Verdict, error) {
	if info, err := os.Stat(j.cfg.HostOutputDir); err != nil || !info.IsDir() {
		return supervisor.Verdict{}, fmt.Errorf(
			"output directory %s does not exist or is not a directory", j.cfg.HostOutputDir)
	}

	var hist *history.Store
	var runID int64
	if j.opts.HistoryDB != "" {
		var err error
		hist, err = history.Open(j.opts.HistoryDB)
		if err != nil {
			return supervisor.Verdict{}, fmt.Errorf("open history database: %w", err)
		}
		defer hist.Close()

		runID, err = hist.RecordStart(string(j.opts.BackendType), string(j.cfg.Task))
		if err != nil {
			return supervisor.Verdict{}, err
		}
	}

	verdict, err := j.run(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("job failed")
		if rerr := actions.StoreErrorReport(j.cfg, err); rerr != nil {
			j.log.Warn().Err(rerr).Msg("failed to write error report")
		}
		if hist != nil {
			if herr := hist.RecordError(runID, err); herr != nil {
				j.log.Warn().Err(herr).Msg("failed to record run error")
			}
		}
		return supervisor.Verdict{}, err
	}

	if hist != nil {
		if herr := hist.RecordResult(runID, verdict); herr != nil {
			j.log.Warn().Err(herr).Msg("failed to record run result")
		}
	}

	return verdict, nil
}

func (j *Job) run(ctx context.Context) (supervisor.Verdict, error) {
	wsDir, err := os.MkdirTemp("", "trifinger-job-")
	if err != nil {
		return supervisor.Verdict{}, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(wsDir)
	j.log.Info().Str("workspace", wsDir).Msg("use temporary workspace")

	// control plane: the nodes report readiness here and accept shutdown
	// requests on their own control URLs
	srv := control.NewServer(j.cfg.StatusListenAddr, j.log)
	if err := srv.Start(); err != nil {
		return supervisor.Verdict{}, fmt.Errorf("start control server: %w", err)
	}
	defer srv.Shutdown(context.Background())

	//
	// Preparation
	//

	srcDir := filepath.Join(wsDir, "src")
	if err := os.Mkdir(srcDir, 0o755); err != nil {
		return supervisor.Verdict{}, err
	}

	gitRevision, err := actions.CloneUserRepository(ctx, j.cfg, srcDir, j.log)
	if err != nil {
		return supervisor.Verdict{}, err
	}

	goal, err := actions.SampleGoal(ctx, j.cfg, srcDir, j.log)
	if err != nil {
		return supervisor.Verdict{}, err
	}

	if err := actions.StoreInfoFile(j.cfg, gitRevision); err != nil {
		return supervisor.Verdict{}, err
	}
	// camera calibration files are only meaningful on the real robot
	if j.opts.BackendType == runner.BackendRobot {
		if err := actions.StoreCameraCalibrationFiles(j.cfg); err != nil {
			return supervisor.Verdict{}, err
		}
	}

	if err := actions.BuildWorkspace(ctx, j.cfg, wsDir, j.log); err != nil {
		return supervisor.Verdict{}, err
	}

	if err := actions.StoreGoalFile(j.cfg, goal); err != nil {
		return supervisor.Verdict{}, err
	}

	//
	// Starting nodes
	//

	ctrl := control.NewClient(j.log)
	data := runner.NewDataRunner(j.cfg, ctrl, j.log)
	backend := runner.NewBackendRunner(j.opts.BackendType, j.cfg, ctrl, j.clock, j.log)
	if j.opts.BackendType == runner.BackendLogReplay {
		backend.SetReplayLogs(j.opts.ReplayRobotLog, j.opts.ReplayCameraLog)
	}
	user := runner.NewUserCodeRunner(j.cfg, wsDir, goal, j.log)

	gate := supervisor.NewGate(j.clock, 0, j.log)

	if err := data.Start(); err != nil {
		return supervisor.Verdict{}, fmt.Errorf("start data node: %w", err)
	}
	if err := gate.WaitUntilReady(ctx, data,
		srv.ReadyFunc(string(runner.KindData)), srv.Notify(string(runner.KindData))); err != nil {
		return supervisor.Verdict{}, err
	}

	if err := backend.Start(); err != nil {
		return supervisor.Verdict{}, fmt.Errorf("start robot backend: %w", err)
	}
	if err := gate.WaitUntilReady(ctx, backend,
		srv.ReadyFunc(string(runner.KindBackend)), srv.Notify(string(runner.KindBackend))); err != nil {
		return supervisor.Verdict{}, err
	}

	if err := user.Start(); err != nil {
		return supervisor.Verdict{}, fmt.Errorf("start user code: %w", err)
	}

	//
	// Monitoring
	//

	var supOpts []supervisor.Option
	if j.opts.MetricsAddr != "" {
		exporter := metrics.NewExporter(j.clock, j.log, data, backend, user)
		supOpts = append(supOpts, supervisor.WithTransitionHook(exporter.ObserveTransition))

		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go exporter.Run(metricsCtx, metricsSampleInterval)

		metricsSrv := &http.Server{Addr: j.opts.MetricsAddr, Handler: exporter}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				j.log.Warn().Err(err).Msg("metrics server failed")
			}
		}()
		defer metricsSrv.Shutdown(context.Background())
	}

	sup := supervisor.New(data, backend, user, j.clock, j.log, supOpts...)
	verdict, err := sup.Monitor(ctx)
	if err != nil {
		// monitoring was aborted, do not leave containers behind
		if user.IsRunning() {
			user.Kill()
		}
		if backend.IsRunning() {
			backend.Kill()
		}
		if data.IsRunning() {
			data.RequestShutdown()
		}
		return supervisor.Verdict{}, err
	}

	if verdict.Success {
		j.log.Info().Msg("done")
	} else {
		j.log.Error().Msg("finished with error")
	}

	// written last, its presence signals that the job is over
	if err := actions.StoreReport(j.cfg, verdict); err != nil {
		return supervisor.Verdict{}, err
	}

	return verdict, nil
}
