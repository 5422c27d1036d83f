package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Episode length limits (number of robot actions in one run).
const (
	MaxEpisodeLength     = 5 * 60 * 1000
	DefaultEpisodeLength = 2 * 60 * 1000
)

// Names of the files that a run produces in the output directory.
const (
	RobotDataFile   = "robot_data.dat"
	CameraDataFile  = "camera_data.dat"
	MetaInfoFile    = "info.json"
	ReportFile      = "report.json"
	BuildOutputFile = "build_output.txt"
	UserStdoutFile  = "user_stdout.txt"
	UserStderrFile  = "user_stderr.txt"
	GoalFile        = "goal.json"
	ErrorReportFile = "error_report.txt"
)

// CameraInfoFile returns the calibration file name for the given camera.
func CameraInfoFile(cameraID int) string {
	return fmt.Sprintf("camera%d.yml", cameraID)
}

// Task selects the task the user code has to solve.  It affects goal
// sampling and whether object tracking is enabled on the cameras.
type Task string

const (
	TaskNone                 Task = "none"
	TaskMoveCube             Task = "move_cube"
	TaskMoveCubeOnTrajectory Task = "move_cube_on_trajectory"
	TaskRearrangeDice        Task = "rearrange_dice"
)

// ParseTask converts a string to a Task, accepting the lower-case names.
func ParseTask(s string) (Task, error) {
	switch Task(s) {
	case TaskNone, TaskMoveCube, TaskMoveCubeOnTrajectory, TaskRearrangeDice:
		return Task(s), nil
	case "":
		return TaskNone, nil
	default:
		return TaskNone, fmt.Errorf("unknown task %q", s)
	}
}

// NeedsObjectTracking reports whether the task requires the cameras to run
// with object tracking enabled.
func (t Task) NeedsObjectTracking() bool {
	return t == TaskMoveCube || t == TaskMoveCubeOnTrajectory
}

// SimObjectType returns the object type the simulation backend has to load
// for this task.
func (t Task) SimObjectType() string {
	switch t {
	case TaskMoveCube, TaskMoveCubeOnTrajectory:
		return "cube"
	case TaskRearrangeDice:
		return "dice"
	default:
		return "none"
	}
}

// JobConfig is the immutable input of one job run.  It is produced by the
// CLI layer (local mode) or from the submission system (condor mode) and is
// only read after that.
type JobConfig struct {
	// Singularity binary and images.
	SingularityBinary string `yaml:"singularity_binary" json:"singularity_binary"`
	BackendImage      string `yaml:"backend_image" json:"backend_image"`
	UserImage         string `yaml:"user_image" json:"user_image"`

	// Output directory on the host (logs, data files, report).
	HostOutputDir string `yaml:"host_output_dir" json:"host_output_dir"`

	// User code repository.
	GitRepository string `yaml:"git_repository" json:"git_repository"`
	GitBranch     string `yaml:"git_branch" json:"git_branch"`
	GitSSHCommand string `yaml:"git_ssh_command,omitempty" json:"git_ssh_command,omitempty"`

	// Optional host directory bound read-only into the user container.
	HostUserDataDir string `yaml:"host_user_data_dir,omitempty" json:"host_user_data_dir,omitempty"`

	EpisodeLength int  `yaml:"episode_length" json:"episode_length"`
	Task          Task `yaml:"task" json:"task"`

	// Simulation-only options.
	SimVisualize    bool `yaml:"sim_visualize" json:"sim_visualize"`
	SimRenderImages bool `yaml:"sim_render_images" json:"sim_render_images"`
	SingularityNV   bool `yaml:"singularity_nv" json:"singularity_nv"`

	// Control plane: where the runner listens for node status
	// notifications and where the nodes accept shutdown requests.
	StatusListenAddr  string `yaml:"status_listen_addr" json:"status_listen_addr"`
	DataControlURL    string `yaml:"data_control_url" json:"data_control_url"`
	BackendControlURL string `yaml:"backend_control_url" json:"backend_control_url"`
}

// ApplyDefaults fills unset fields with their defaults and clamps the
// episode length to the allowed maximum.
func (c *JobConfig) ApplyDefaults() {
	if c.SingularityBinary == "" {
		c.SingularityBinary = "singularity"
	}
	if c.UserImage == "" {
		c.UserImage = c.BackendImage
	}
	if c.GitBranch == "" {
		c.GitBranch = "master"
	}
	if c.EpisodeLength <= 0 {
		c.EpisodeLength = DefaultEpisodeLength
	}
	if c.EpisodeLength > MaxEpisodeLength {
		c.EpisodeLength = MaxEpisodeLength
	}
	if c.Task == "" {
		c.Task = TaskNone
	}
	if c.StatusListenAddr == "" {
		c.StatusListenAddr = "127.0.0.1:7420"
	}
	if c.DataControlURL == "" {
		c.DataControlURL = "http://127.0.0.1:7421"
	}
	if c.BackendControlURL == "" {
		c.BackendControlURL = "http://127.0.0.1:7422"
	}
}

// Validate checks that the configuration is complete enough to run a job.
func (c *JobConfig) Validate() error {
	if c.BackendImage == "" {
		return fmt.Errorf("backend image is not set")
	}
	if _, err := os.Stat(c.BackendImage); err != nil {
		return fmt.Errorf("backend image %s does not exist", c.BackendImage)
	}
	if c.UserImage != c.BackendImage {
		if _, err := os.Stat(c.UserImage); err != nil {
			return fmt.Errorf("user image %s does not exist", c.UserImage)
		}
	}
	if c.HostOutputDir == "" {
		return fmt.Errorf("output directory is not set")
	}
	info, err := os.Stat(c.HostOutputDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("output directory %s does not exist or is not a directory", c.HostOutputDir)
	}
	if c.GitRepository == "" {
		return fmt.Errorf("git repository is not set")
	}
	return nil
}

// robochConfig is the user-provided configuration file of the submission
// system ("roboch.json" in the payload directory).
type robochConfig struct {
	Repository       string `json:"repository"`
	Branch           string `json:"branch"`
	EpisodeLength    int    `json:"episode_length"`
	SingularityImage string `json:"singularity_image"`
	GitDeployKey     string `json:"git_deploy_key"`
}

// LoadSubmissionConfig builds the job configuration for a run on the
// submission system.  Static settings come from the arguments, the rest is
// read from the user's roboch.json in the payload directory.  The output
// directory is created under outputBase using the condor job id, so an
// already existing directory means a duplicate job id and is an error.
func LoadSubmissionConfig(backendImage string, task Task, outputBase, payloadDir string) (*JobConfig, error) {
	jobID, err := CondorJobID()
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Join(outputBase, jobID)
	if _, err := os.Stat(outputDir); err == nil {
		return nil, fmt.Errorf("output directory %s already exists", outputDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	raw, err := os.ReadFile(filepath.Join(payloadDir, "roboch.json"))
	if err != nil {
		return nil, fmt.Errorf("read user config: %w", err)
	}
	var user robochConfig
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("parse user config: %w", err)
	}
	if user.Repository == "" {
		return nil, fmt.Errorf("user config does not specify a repository")
	}

	userImage := backendImage
	if user.SingularityImage != "" {
		userImage = filepath.Join(payloadDir, user.SingularityImage)
		if _, err := os.Stat(userImage); err != nil {
			return nil, fmt.Errorf("user image %s does not exist", userImage)
		}
	}

	gitSSHCommand := "ssh -o StrictHostKeyChecking=no"
	if user.GitDeployKey != "" {
		keyPath := filepath.Join(payloadDir, user.GitDeployKey)
		gitSSHCommand = fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=no", keyPath)
	}

	cfg := &JobConfig{
		BackendImage:    backendImage,
		UserImage:       userImage,
		HostOutputDir:   outputDir,
		GitRepository:   user.Repository,
		GitBranch:       user.Branch,
		GitSSHCommand:   gitSSHCommand,
		HostUserDataDir: payloadDir,
		EpisodeLength:   user.EpisodeLength,
		Task:            task,
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
