package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTask(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Task
		wantErr bool
	}{
		{"none", "none", TaskNone, false},
		{"move cube", "move_cube", TaskMoveCube, false},
		{"move cube on trajectory", "move_cube_on_trajectory", TaskMoveCubeOnTrajectory, false},
		{"rearrange dice", "rearrange_dice", TaskRearrangeDice, false},
		{"empty defaults to none", "", TaskNone, false},
		{"unknown", "juggle", TaskNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTask(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskNeedsObjectTracking(t *testing.T) {
	assert.True(t, TaskMoveCube.NeedsObjectTracking())
	assert.True(t, TaskMoveCubeOnTrajectory.NeedsObjectTracking())
	assert.False(t, TaskRearrangeDice.NeedsObjectTracking())
	assert.False(t, TaskNone.NeedsObjectTracking())
}

func TestTaskSimObjectType(t *testing.T) {
	assert.Equal(t, "cube", TaskMoveCube.SimObjectType())
	assert.Equal(t, "cube", TaskMoveCubeOnTrajectory.SimObjectType())
	assert.Equal(t, "dice", TaskRearrangeDice.SimObjectType())
	assert.Equal(t, "none", TaskNone.SimObjectType())
}

func TestApplyDefaults(t *testing.T) {
	cfg := JobConfig{BackendImage: "/images/backend.sif"}
	cfg.ApplyDefaults()

	assert.Equal(t, "singularity", cfg.SingularityBinary)
	assert.Equal(t, "/images/backend.sif", cfg.UserImage)
	assert.Equal(t, "master", cfg.GitBranch)
	assert.Equal(t, DefaultEpisodeLength, cfg.EpisodeLength)
	assert.Equal(t, TaskNone, cfg.Task)
	assert.NotEmpty(t, cfg.StatusListenAddr)
	assert.NotEmpty(t, cfg.DataControlURL)
	assert.NotEmpty(t, cfg.BackendControlURL)
}

func TestApplyDefaultsClampsEpisodeLength(t *testing.T) {
	cfg := JobConfig{EpisodeLength: MaxEpisodeLength + 1}
	cfg.ApplyDefaults()
	assert.Equal(t, MaxEpisodeLength, cfg.EpisodeLength)
}

func TestCondorJobID(t *testing.T) {
	tests := []struct {
		name    string
		jobID   string
		want    string
		wantErr bool
	}{
		{"scheduler prefix", "sched#12345.0", "12345", false},
		{"different cluster id", "sched#7.3", "7", false},
		{"missing separator", "12345", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JOB_ID", tt.jobID)
			got, err := CondorJobID()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsCondorRunning(t *testing.T) {
	t.Setenv("BATCH_SYSTEM", "HTCondor")
	assert.True(t, IsCondorRunning())

	t.Setenv("BATCH_SYSTEM", "slurm")
	assert.False(t, IsCondorRunning())
}
