package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/legionctl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setArgs pins os.Args so test-runner flags never leak into Load.
func setArgs(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	os.Args = append([]string{"legionctl"}, args...)
	t.Cleanup(func() { os.Args = oldArgs })
}

func TestLoad(t *testing.T) {
	setArgs(t)
	tempDir := t.TempDir()

	configContent := []byte(`
interval = 250
monitor = true
log_level = "debug"
agents = ["thermal"]
telemetry = true
telemetry_db = "/path/to/telemetry.db"

[gather]
debounce_ms = 400
trend_window = 20

[forecast]
ewma_alpha = 0.3

[thermal]
cooldown_sec = 45
`)
	configPath := filepath.Join(tempDir, "legionctl.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("LEGIONCTL_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Interval, "Expected Interval 250")
	assert.True(t, cfg.Monitor, "Expected Monitor true")
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.Equal(t, []string{"thermal"}, cfg.Agents, "Expected single thermal agent")
	assert.True(t, cfg.Telemetry, "Expected Telemetry true")
	assert.Equal(t, "/path/to/telemetry.db", cfg.TelemetryDB)
	assert.Equal(t, 400, cfg.Gather.DebounceMs, "Expected DebounceMs 400")
	assert.Equal(t, 20, cfg.Gather.TrendWindow, "Expected TrendWindow 20")
	assert.InDelta(t, 0.3, cfg.Forecast.EWMAAlpha, 1e-9)
	assert.Equal(t, 45, cfg.Thermal.CooldownSec, "Expected CooldownSec 45")
}

func TestLoadDefaults(t *testing.T) {
	setArgs(t)
	t.Setenv("LEGIONCTL_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, 500, cfg.Interval, "Expected default Interval 500")
	assert.False(t, cfg.Monitor, "Expected default Monitor false")
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, []string{"thermal", "gpumode"}, cfg.Agents)
	assert.Equal(t, 800, cfg.Gather.DebounceMs)
	assert.Equal(t, 300, cfg.Gather.HistorySize)
	assert.Equal(t, 30, cfg.Gather.TrendWindow)
	assert.InDelta(t, 0.2, cfg.Forecast.EWMAAlpha, 1e-9)
	assert.InDelta(t, 60.0, cfg.Forecast.CPUTauSec, 1e-9)
	assert.Equal(t, 30, cfg.Thermal.CooldownSec)
	assert.Equal(t, 15, cfg.Limits.PL1MinW)
	assert.Equal(t, 140, cfg.Limits.PL2MaxW)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	setArgs(t)
	tempDir := t.TempDir()

	configContent := []byte(`
This is not a valid TOML file
`)
	configPath := filepath.Join(tempDir, "legionctl.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("LEGIONCTL_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestInvalidLogLevel(t *testing.T) {
	setArgs(t)
	tempDir := t.TempDir()

	configContent := []byte(`
log_level = "invalid"
`)
	configPath := filepath.Join(tempDir, "legionctl.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("LEGIONCTL_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
}

func TestInvalidInterval(t *testing.T) {
	setArgs(t)
	tempDir := t.TempDir()

	configContent := []byte(`
interval = 0
`)
	configPath := filepath.Join(tempDir, "legionctl.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("LEGIONCTL_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_interval")
}

func TestLogLevelFlag(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd", "--log-level", "debug"}
	t.Setenv("LEGIONCTL_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
}

func TestTrendWindowExceedsHistory(t *testing.T) {
	setArgs(t)
	tempDir := t.TempDir()

	configContent := []byte(`
[gather]
history_size = 10
trend_window = 30
`)
	configPath := filepath.Join(tempDir, "legionctl.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("LEGIONCTL_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trend window")
}
