// Package actions contains the one-shot preparation and reporting steps
// that surround a job: fetching and building the user code, sampling a
// goal and writing the result files to the output directory.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/launch"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/supervisor"
)

// CloneUserRepository clones the user's git repository (including
// submodules) into srcDir/usercode and returns the revision of the checked
// out commit.
func CloneUserRepository(ctx context.Context, cfg *config.JobConfig, srcDir string, logger zerolog.Logger) (string, error) {
	dest := filepath.Join(srcDir, "usercode")

	logger.Info().
		Str("repository", cfg.GitRepository).
		Str("branch", cfg.GitBranch).
		Msg("clone user git repository")

	clone := exec.CommandContext(ctx,
		"git", "clone", "--recurse-submodules",
		"-b", cfg.GitBranch, cfg.GitRepository, dest)
	if cfg.GitSSHCommand != "" {
		clone.Env = append(os.Environ(), "GIT_SSH_COMMAND="+cfg.GitSSHCommand)
	}
	if out, err := clone.CombinedOutput(); err != nil {
		return "", fmt.Errorf("clone user repository: %w\n%s", err, out)
	}

	revParse := exec.CommandContext(ctx,
		"git", "--git-dir", filepath.Join(dest, ".git"), "rev-parse", "HEAD")
	out, err := revParse.Output()
	if err != nil {
		return "", fmt.Errorf("determine git revision: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// BuildWorkspace compiles the user workspace inside the user container and
// stores the build log in the output directory.
func BuildWorkspace(ctx context.Context, cfg *config.JobConfig, wsDir string, logger zerolog.Logger) error {
	logger.Info().Msg("build the user code")

	spec := launch.BuildWorkspace(cfg, wsDir)
	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	out, err := cmd.CombinedOutput()

	// keep the log even when the build failed, it is the main debugging aid
	logFile := filepath.Join(cfg.HostOutputDir, config.BuildOutputFile)
	if werr := os.WriteFile(logFile, out, 0o644); werr != nil {
		return fmt.Errorf("write build log: %w", werr)
	}

	if err != nil {
		return fmt.Errorf("build user workspace: %w", err)
	}
	return nil
}

// SampleGoal produces the JSON-encoded goal for the configured task.  If
// the user repository contains a goal.json, the goal is derived from it,
// otherwise a random goal is sampled.  Returns the empty string for tasks
// without goals.
func SampleGoal(ctx context.Context, cfg *config.JobConfig, srcDir string, logger zerolog.Logger) (string, error) {
	if cfg.Task == config.TaskNone {
		return "", nil
	}

	goalFile := filepath.Join(srcDir, "usercode", config.GoalFile)
	if _, err := os.Stat(goalFile); err != nil {
		goalFile = ""
	}

	spec := launch.SampleGoal(cfg, srcDir, goalFile)
	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("sample goal: %w\n%s", err, exitErr.Stderr)
		}
		return "", fmt.Errorf("sample goal: %w", err)
	}

	goal := strings.TrimSpace(string(out))
	if goal == "" {
		return "", fmt.Errorf("failed to sample goal: task command produced no output")
	}

	logger.Info().Str("goal", goal).Msg("goal sampled")
	return goal, nil
}

type metaInfo struct {
	GitRevision string `json:"git_revision"`
	RobotName   string `json:"robot_name"`
	Timestamp   string `json:"timestamp"`
}

// StoreInfoFile writes metadata about the job (git revision, robot host,
// start time) to info.json in the output directory.
func StoreInfoFile(cfg *config.JobConfig, gitRevision string) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	info := metaInfo{
		GitRevision: gitRevision,
		RobotName:   hostname,
		Timestamp:   time.Now().Format(time.ANSIC),
	}

	return writeJSONFile(filepath.Join(cfg.HostOutputDir, config.MetaInfoFile), info)
}

// StoreCameraCalibrationFiles copies the calibration files of the three
// cameras to the output directory.  Only meaningful on the real robot.
func StoreCameraCalibrationFiles(cfg *config.JobConfig) error {
	for _, cameraID := range []int{60, 180, 300} {
		src := fmt.Sprintf("/etc/trifingerpro/camera%d_cropped_and_downsampled.yml", cameraID)
		dest := filepath.Join(cfg.HostOutputDir, config.CameraInfoFile(cameraID))
		if err := copyFile(src, dest); err != nil {
			return fmt.Errorf("copy calibration file for camera %d: %w", cameraID, err)
		}
	}
	return nil
}

// StoreGoalFile writes the goal used for this job to goal.json.  An empty
// goal (task without goals) is stored as null.
func StoreGoalFile(cfg *config.JobConfig, goal string) error {
	var parsed any
	if goal != "" {
		if err := json.Unmarshal([]byte(goal), &parsed); err != nil {
			return fmt.Errorf("goal is not valid JSON: %w", err)
		}
	}

	doc := map[string]any{"goal": parsed}
	return writeJSONFile(filepath.Join(cfg.HostOutputDir, config.GoalFile), doc)
}

// StoreReport writes the final result report.  It is written last so its
// presence signals that the job is over.
func StoreReport(cfg *config.JobConfig, verdict supervisor.Verdict) error {
	return writeJSONFile(filepath.Join(cfg.HostOutputDir, config.ReportFile), verdict)
}

// StoreErrorReport records a fatal setup or execution error in the output
// directory.  Best effort, failures are reported but the job error takes
// precedence.
func StoreErrorReport(cfg *config.JobConfig, jobErr error) error {
	text := fmt.Sprintf("Submission failed with the following error:\n%v\n", jobErr)
	file := filepath.Join(cfg.HostOutputDir, config.ErrorReportFile)
	return os.WriteFile(file, []byte(text), 0o644)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
