package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 100_000, cfg.Sim.DefaultTrials)
	assert.Equal(t, 0.99, cfg.Sim.DefaultConfidence)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())

	table, err := cfg.RatingTable()
	require.NoError(t, err)
	assert.Equal(t, 0.0090, table.PD("BBB", 3))
	assert.Equal(t, 0.0090, table.PD("BBB", 4))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SIM_WORKERS", "3")
	t.Setenv("SIM_MAX_TRIALS", "1000")
	t.Setenv("SIM_DEFAULT_TRIALS", "500")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3, cfg.Sim.Workers)
	assert.Equal(t, 1000, cfg.Sim.MaxTrials)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_FileWithRatings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk.yaml")
	body := `
port: "7000"
sim:
  default_trials: 20000
ratings:
  bbb:
    "1": 0.003
    "3": 0.012
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, 20_000, cfg.Sim.DefaultTrials)

	table, err := cfg.RatingTable()
	require.NoError(t, err)
	assert.Equal(t, 0.012, table.PD("BBB", 3))
	assert.Equal(t, 0.003, table.PD("BBB", 1))
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("SIM_DEFAULT_CONFIDENCE", "1.5")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
