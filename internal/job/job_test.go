package job

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/config"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/history"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
)

func TestRunRejectsMissingOutputDir(t *testing.T) {
	cfg := &config.JobConfig{HostOutputDir: filepath.Join(t.TempDir(), "missing")}
	cfg.ApplyDefaults()

	j := New(cfg, Options{BackendType: runner.BackendRobot},
		clockwork.NewRealClock(), zerolog.Nop())

	_, err := j.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output directory")
}

func TestRunWritesErrorReportOnSetupFailure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	cfg := &config.JobConfig{
		HostOutputDir: t.TempDir(),
		GitRepository: filepath.Join(t.TempDir(), "does-not-exist"),
		GitBranch:     "main",
		// ephemeral port so parallel tests do not collide
		StatusListenAddr: "127.0.0.1:0",
	}
	cfg.ApplyDefaults()

	historyDB := filepath.Join(t.TempDir(), "history.db")
	j := New(cfg, Options{BackendType: runner.BackendSimulation, HistoryDB: historyDB},
		clockwork.NewRealClock(), zerolog.Nop())

	_, err := j.Run(context.Background())
	require.Error(t, err)

	// the clone failure must be visible in the error report
	assert.FileExists(t, filepath.Join(cfg.HostOutputDir, config.ErrorReportFile))

	// and recorded in the history
	store, err := history.Open(historyDB)
	require.NoError(t, err)
	defer store.Close()

	records, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.NotEmpty(t, records[0].Error)
}
