// Package launch builds the singularity command lines for the processes of
// one job run.  It is purely about argument construction; starting and
// supervising the resulting processes is the runner package's concern.
package launch

import (
	"fmt"
	"strings"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
)

// FirstActionTimeout is the time in seconds the backend waits for the first
// action to arrive after it has been started.
const FirstActionTimeout = 2 * 60

// Spec describes one process to be launched.
type Spec struct {
	// Name identifies the process in logs.
	Name string

	// Args is the full argv, Args[0] being the binary.
	Args []string

	// NewProcessGroup starts the process as leader of a new process
	// group so that it can be torn down together with its children.
	NewProcessGroup bool

	// StdoutFile and StderrFile redirect output to files when set.
	// CombineOutput redirects stderr into stdout instead.
	StdoutFile    string
	StderrFile    string
	CombineOutput bool
}

// String returns the command line for logging.
func (s Spec) String() string {
	return strings.Join(s.Args, " ")
}

func cameraFlag(task config.Task) string {
	if task.NeedsObjectTracking() {
		return "--cameras-with-tracker"
	}
	return "--cameras"
}

// DataNode builds the command for the data recording node.
func DataNode(cfg *config.JobConfig) Spec {
	rosrunCmd := strings.Join([]string{
		"ros2 run robot_fingers trifinger_data_backend",
		cameraFlag(cfg.Task),
		fmt.Sprintf("--robot-logfile /output/%s", config.RobotDataFile),
		fmt.Sprintf("--camera-logfile /output/%s", config.CameraDataFile),
		fmt.Sprintf("--max-number-of-actions %d", cfg.EpisodeLength),
		fmt.Sprintf("--status-url http://%s/nodes/data/status", cfg.StatusListenAddr),
		fmt.Sprintf("--control-url %s", cfg.DataControlURL),
	}, " ")

	bindings := fmt.Sprintf("/dev,/etc/trifingerpro,%s:/output", cfg.HostOutputDir)

	return Spec{
		Name: "data",
		Args: []string{
			cfg.SingularityBinary,
			"run", "--cleanenv", "--contain",
			"-B", bindings,
			cfg.BackendImage,
			rosrunCmd,
		},
		NewProcessGroup: true,
		CombineOutput:   true,
	}
}

// RobotBackend builds the command for the real-robot backend.
func RobotBackend(cfg *config.JobConfig) Spec {
	rosrunCmd := strings.Join([]string{
		"ros2 run robot_fingers trifinger_robot_backend",
		cameraFlag(cfg.Task),
		fmt.Sprintf("--first-action-timeout %d", FirstActionTimeout),
		fmt.Sprintf("--max-number-of-actions %d", cfg.EpisodeLength),
		"--fail-on-incomplete-run",
		fmt.Sprintf("--status-url http://%s/nodes/backend/status", cfg.StatusListenAddr),
		fmt.Sprintf("--control-url %s", cfg.BackendControlURL),
	}, " ")

	bindings := strings.Join([]string{
		"/dev",
		"/etc/trifingerpro:/etc/trifingerpro:ro",
		"/var/log/trifinger:/log",
	}, ",")

	return Spec{
		Name: "backend",
		Args: []string{
			cfg.SingularityBinary,
			"run", "--cleanenv", "--contain",
			"-B", bindings,
			cfg.BackendImage,
			rosrunCmd,
		},
		NewProcessGroup: true,
		CombineOutput:   true,
	}
}

// SimulationBackend builds the command for the pybullet backend.
func SimulationBackend(cfg *config.JobConfig) Spec {
	parts := []string{
		"ros2 run robot_fingers pybullet_backend",
		"--cameras",
	}
	if cfg.SimRenderImages {
		parts = append(parts, "--render-images")
	}
	parts = append(parts,
		fmt.Sprintf("--object=%s", cfg.Task.SimObjectType()),
		"--real-time-mode",
	)
	if cfg.SimVisualize {
		parts = append(parts, "--visualize")
	}
	parts = append(parts,
		fmt.Sprintf("--max-number-of-actions=%d", cfg.EpisodeLength),
		fmt.Sprintf("--first-action-timeout=%d", FirstActionTimeout),
		fmt.Sprintf("--status-url http://%s/nodes/backend/status", cfg.StatusListenAddr),
		fmt.Sprintf("--control-url %s", cfg.BackendControlURL),
	)
	rosrunCmd := strings.Join(parts, " ")

	args := []string{cfg.SingularityBinary, "run", "--cleanenv", "--contain"}
	if cfg.SingularityNV {
		args = append(args, "--nv")
	}
	args = append(args, "-B", "/dev", cfg.BackendImage, rosrunCmd)

	return Spec{
		Name:            "backend",
		Args:            args,
		NewProcessGroup: true,
		CombineOutput:   true,
	}
}

// LogReplayBackend builds the command for the log replay backend.
func LogReplayBackend(cfg *config.JobConfig, robotLog, cameraLog string) Spec {
	rosrunCmd := strings.Join([]string{
		"ros2 run robot_fingers log_replay_backend",
		fmt.Sprintf("--robot-log-file %s", robotLog),
		fmt.Sprintf("--camera-log-file %s", cameraLog),
		fmt.Sprintf("--first-action-timeout %d", FirstActionTimeout),
		fmt.Sprintf("--status-url http://%s/nodes/backend/status", cfg.StatusListenAddr),
		fmt.Sprintf("--control-url %s", cfg.BackendControlURL),
	}, " ")

	return Spec{
		Name: "backend",
		Args: []string{
			cfg.SingularityBinary,
			"run", "--cleanenv", "--contain",
			"-B", "/dev",
			cfg.BackendImage,
			rosrunCmd,
		},
		NewProcessGroup: true,
		CombineOutput:   true,
	}
}

// UserCode builds the command that runs the user's workload.  The container
// has no network access and gets the built workspace, the user output
// directory and optionally the user data directory bound into it.
func UserCode(cfg *config.JobConfig, wsDir, userOutputDir, goal string) Spec {
	execCmd := fmt.Sprintf(
		". /setup.bash; . /ws/install/local_setup.bash; /ws/src/usercode/run '%s'",
		goal,
	)

	// Binding all of /dev as binding only /dev/shm does not work together
	// with --contain.
	bindings := []string{
		fmt.Sprintf("%s:/ws", wsDir),
		"/dev",
		"/etc/trifingerpro:/etc/trifingerpro:ro",
		fmt.Sprintf("%s:/output", userOutputDir),
	}
	if cfg.HostUserDataDir != "" {
		bindings = append(bindings, fmt.Sprintf("%s:/userhome:ro", cfg.HostUserDataDir))
	}

	return Spec{
		Name: "user",
		Args: []string{
			cfg.SingularityBinary,
			"exec", "--cleanenv", "--contain",
			"--net", "--network", "none",
			"-B", strings.Join(bindings, ","),
			cfg.UserImage,
			"bash", "-c", execCmd,
		},
		StdoutFile: userOutput(cfg, config.UserStdoutFile),
		StderrFile: userOutput(cfg, config.UserStderrFile),
	}
}

func userOutput(cfg *config.JobConfig, name string) string {
	return cfg.HostOutputDir + "/" + name
}

// BuildWorkspace builds the command that compiles the user workspace inside
// the user container.
func BuildWorkspace(cfg *config.JobConfig, wsDir string) Spec {
	return Spec{
		Name: "build",
		Args: []string{
			cfg.SingularityBinary,
			"exec", "--cleanenv", "--contain",
			"--net", "--network", "none",
			"-B", fmt.Sprintf("%s:/ws", wsDir),
			cfg.UserImage,
			"bash", "-c", ". /setup.bash; cd /ws; colcon build",
		},
	}
}

// SampleGoal builds the command that samples or validates a goal for the
// given task.  goalFile may be empty, in which case a random goal is
// sampled.
func SampleGoal(cfg *config.JobConfig, srcDir, goalFile string) Spec {
	cmd := "sample_goal"
	if goalFile != "" {
		cmd = fmt.Sprintf("goal_from_config %s", goalFile)
	}

	return Spec{
		Name: "goal",
		Args: []string{
			cfg.SingularityBinary,
			"run", "-eC",
			"-B", fmt.Sprintf("%s:%s:ro", srcDir, srcDir),
			cfg.BackendImage,
			fmt.Sprintf("python3 -m trifinger_simulation.tasks.%s %s", cfg.Task, cmd),
		},
	}
}
