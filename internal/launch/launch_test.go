package launch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
)

func testConfig() *config.JobConfig {
	cfg := &config.JobConfig{
		BackendImage:  "/images/backend.sif",
		UserImage:     "/images/user.sif",
		HostOutputDir: "/data/output",
		GitRepository: "git@example.com:user/code.git",
		EpisodeLength: 1000,
		Task:          config.TaskMoveCube,
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDataNode(t *testing.T) {
	spec := DataNode(testConfig())

	require.Equal(t, "singularity", spec.Args[0])
	assert.Equal(t, "data", spec.Name)
	assert.True(t, spec.NewProcessGroup)
	assert.Contains(t, spec.Args, "/dev,/etc/trifingerpro,/data/output:/output")

	inner := spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, "trifinger_data_backend")
	assert.Contains(t, inner, "--cameras-with-tracker")
	assert.Contains(t, inner, "--max-number-of-actions 1000")
	assert.Contains(t, inner, "--robot-logfile /output/robot_data.dat")
}

func TestDataNodeWithoutTracking(t *testing.T) {
	cfg := testConfig()
	cfg.Task = config.TaskRearrangeDice
	spec := DataNode(cfg)
	inner := spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, "--cameras ")
	assert.NotContains(t, inner, "--cameras-with-tracker")
}

func TestRobotBackend(t *testing.T) {
	spec := RobotBackend(testConfig())

	assert.True(t, spec.NewProcessGroup)
	assert.Contains(t, spec.Args, "-B")
	assert.Contains(t, spec.Args, "/dev,/etc/trifingerpro:/etc/trifingerpro:ro,/var/log/trifinger:/log")

	inner := spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, "trifinger_robot_backend")
	assert.Contains(t, inner, "--fail-on-incomplete-run")
	assert.Contains(t, inner, "--first-action-timeout 120")
}

func TestSimulationBackend(t *testing.T) {
	cfg := testConfig()
	cfg.SimVisualize = true
	cfg.SingularityNV = true
	spec := SimulationBackend(cfg)

	assert.Contains(t, spec.Args, "--nv")

	inner := spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, "pybullet_backend")
	assert.Contains(t, inner, "--object=cube")
	assert.Contains(t, inner, "--visualize")
	assert.NotContains(t, inner, "--render-images")
}

func TestLogReplayBackend(t *testing.T) {
	spec := LogReplayBackend(testConfig(), "/logs/robot.dat", "/logs/camera.dat")

	inner := spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, "log_replay_backend")
	assert.Contains(t, inner, "--robot-log-file /logs/robot.dat")
	assert.Contains(t, inner, "--camera-log-file /logs/camera.dat")
}

func TestUserCode(t *testing.T) {
	cfg := testConfig()
	cfg.HostUserDataDir = "/home/user/payload"
	spec := UserCode(cfg, "/tmp/ws", "/data/output/user", `{"goal": 1}`)

	assert.Contains(t, spec.Args, "--network")
	assert.Contains(t, spec.Args, "none")
	assert.Equal(t, "/data/output/user_stdout.txt", spec.StdoutFile)
	assert.Equal(t, "/data/output/user_stderr.txt", spec.StderrFile)
	assert.False(t, spec.NewProcessGroup)

	var bindings string
	for i, a := range spec.Args {
		if a == "-B" {
			bindings = spec.Args[i+1]
		}
	}
	assert.Contains(t, bindings, "/tmp/ws:/ws")
	assert.Contains(t, bindings, "/data/output/user:/output")
	assert.Contains(t, bindings, "/home/user/payload:/userhome:ro")

	inner := spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, `/ws/src/usercode/run '{"goal": 1}'`)
}

func TestBuildWorkspace(t *testing.T) {
	spec := BuildWorkspace(testConfig(), "/tmp/ws")

	assert.Contains(t, spec.Args, "--net")
	inner := spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, "colcon build")
}

func TestSampleGoal(t *testing.T) {
	spec := SampleGoal(testConfig(), "/tmp/src", "")
	inner := spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, "trifinger_simulation.tasks.move_cube sample_goal")

	spec = SampleGoal(testConfig(), "/tmp/src", "/tmp/src/usercode/goal.json")
	inner = spec.Args[len(spec.Args)-1]
	assert.Contains(t, inner, "goal_from_config /tmp/src/usercode/goal.json")
}

func TestSpecString(t *testing.T) {
	spec := Spec{Args: []string{"singularity", "run", "image.sif"}}
	assert.True(t, strings.HasPrefix(spec.String(), "singularity run"))
}
