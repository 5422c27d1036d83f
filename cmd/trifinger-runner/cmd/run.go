package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/job"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
)

var runFlags struct {
	backend string
	condor  bool

	// local mode
	outputDir     string
	repository    string
	branch        string
	backendImage  string
	userImage     string
	userDataDir   string
	episodeLength int
	task          string

	// simulation
	simVisualize    bool
	simRenderImages bool
	singularityNV   bool

	// log replay
	robotLog  string
	cameraLog string

	metricsAddr string
	historyDB   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a submission on the robot",
	Long: `Run a submission.  In condor mode the configuration is read from the
user's roboch.json in the payload directory, otherwise it is taken from the
command line flags.`,
	RunE: runJob,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)

	runCmd.Flags().StringVar(&runFlags.robotLog, "robot-log", "", "robot log file to replay (log-replay backend only)")
	runCmd.Flags().StringVar(&runFlags.cameraLog, "camera-log", "", "camera log file to replay (log-replay backend only)")

	runCmd.Flags().StringVar(&runFlags.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (disabled if empty)")
	runCmd.Flags().StringVar(&runFlags.historyDB, "history-db", "", "path of the run history database")
}

// addRunFlags registers the configuration flags shared by 'run' and
// 'config show'.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runFlags.backend, "backend", "robot", "backend type: robot, simulation or log-replay")
	cmd.Flags().BoolVar(&runFlags.condor, "condor", false, "read the configuration from the submission system")

	cmd.Flags().StringVarP(&runFlags.outputDir, "output-dir", "o", "", "path to the output directory")
	cmd.Flags().StringVarP(&runFlags.repository, "repository", "r", "", "git repository with the user code")
	cmd.Flags().StringVarP(&runFlags.branch, "branch", "b", "master", "branch of the git repository that is used")
	cmd.Flags().StringVar(&runFlags.backendImage, "backend-image", "", "path to the Singularity image for the backend")
	cmd.Flags().StringVar(&runFlags.userImage, "user-image", "", "path to the Singularity image for the user code (defaults to the backend image)")
	cmd.Flags().StringVar(&runFlags.userDataDir, "user-data-dir", "", "if set, bind this to '/userhome' when running the user code")
	cmd.Flags().IntVar(&runFlags.episodeLength, "episode-length", config.DefaultEpisodeLength, "number of actions that are executed on the robot")
	cmd.Flags().StringVar(&runFlags.task, "task", "none", "task to execute: none, move_cube, move_cube_on_trajectory or rearrange_dice")

	cmd.Flags().BoolVar(&runFlags.simVisualize, "sim-visualize", false, "enable visualisation (simulation only)")
	cmd.Flags().BoolVar(&runFlags.simRenderImages, "sim-render-images", false, "enable rendering of camera images (simulation only)")
	cmd.Flags().BoolVar(&runFlags.singularityNV, "singularity-nv", false, "run the simulation backend container with --nv")
}

func parseBackendType(s string) (runner.BackendType, error) {
	switch runner.BackendType(s) {
	case runner.BackendRobot, runner.BackendSimulation, runner.BackendLogReplay:
		return runner.BackendType(s), nil
	default:
		return "", fmt.Errorf("unsupported backend type %q", s)
	}
}

// buildRunConfig assembles the job configuration from the flags (local
// mode) or from the submission system (condor mode).
func buildRunConfig() (*config.JobConfig, error) {
	task, err := config.ParseTask(runFlags.task)
	if err != nil {
		return nil, err
	}

	if runFlags.condor {
		if !config.IsCondorRunning() {
			return nil, fmt.Errorf("condor is not running")
		}

		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		outputBase := viper.GetString("output_base")
		if outputBase == "" {
			outputBase = filepath.Join("/shared/output", os.Getenv("USER"), "data")
		}

		return config.LoadSubmissionConfig(
			runFlags.backendImage, task, outputBase, filepath.Join(home, "payload"))
	}

	if runFlags.outputDir == "" || runFlags.repository == "" || runFlags.backendImage == "" {
		return nil, fmt.Errorf("--output-dir, --repository and --backend-image are required in local mode")
	}

	backendImage, err := filepath.Abs(runFlags.backendImage)
	if err != nil {
		return nil, err
	}
	userImage := backendImage
	if runFlags.userImage != "" {
		if userImage, err = filepath.Abs(runFlags.userImage); err != nil {
			return nil, err
		}
	}

	cfg := &config.JobConfig{
		BackendImage:    backendImage,
		UserImage:       userImage,
		HostOutputDir:   runFlags.outputDir,
		GitRepository:   runFlags.repository,
		GitBranch:       runFlags.branch,
		HostUserDataDir: runFlags.userDataDir,
		EpisodeLength:   runFlags.episodeLength,
		Task:            task,
		SimVisualize:    runFlags.simVisualize,
		SimRenderImages: runFlags.simRenderImages,
		SingularityNV:   runFlags.singularityNV,
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func runJob(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	backendType, err := parseBackendType(runFlags.backend)
	if err != nil {
		return err
	}
	if backendType == runner.BackendLogReplay && (runFlags.robotLog == "" || runFlags.cameraLog == "") {
		return fmt.Errorf("--robot-log and --camera-log are required for the log-replay backend")
	}

	cfg, err := buildRunConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	historyDB := runFlags.historyDB
	if historyDB == "" {
		historyDB = defaultHistoryDB()
	}
	if historyDB != "" {
		if err := os.MkdirAll(filepath.Dir(historyDB), 0o755); err != nil {
			logger.Warn().Err(err).Msg("cannot create history directory, history disabled")
			historyDB = ""
		}
	}

	opts := job.Options{
		BackendType:     backendType,
		ReplayRobotLog:  runFlags.robotLog,
		ReplayCameraLog: runFlags.cameraLog,
		MetricsAddr:     runFlags.metricsAddr,
		HistoryDB:       historyDB,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j := job.New(cfg, opts, clockwork.NewRealClock(), logger)
	verdict, err := j.Run(ctx)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(verdict, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}

	if !verdict.Success {
		return fmt.Errorf("job finished with errors (see %s)", cfg.HostOutputDir)
	}
	return nil
}
