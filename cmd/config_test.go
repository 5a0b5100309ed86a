package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	setDefaults(dir)
	viper.Set("stats.timezone", "UTC")

	// Drop shared deps so each test opens its own store.
	dataStore = nil
	locker = nil
	deps = nil
	t.Cleanup(func() {
		if dataStore != nil {
			_ = dataStore.Close()
		}
		dataStore = nil
		locker = nil
		deps = nil
	})

	// Initialize output
	ui = output.New()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "arzu configuration")
	assert.Contains(t, string(data), "zombie:")
	assert.Contains(t, string(data), "threshold: 2h0m0s")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "arzu configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	// Unset EDITOR and VISUAL
	origEditor := os.Getenv("EDITOR")
	origVisual := os.Getenv("VISUAL")
	_ = os.Unsetenv("EDITOR")
	_ = os.Unsetenv("VISUAL")
	t.Cleanup(func() {
		if origEditor != "" {
			_ = os.Setenv("EDITOR", origEditor)
		}
		if origVisual != "" {
			_ = os.Setenv("VISUAL", origVisual)
		}
	})

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	_ = os.Setenv("EDITOR", "echo") // harmless command
	t.Cleanup(func() { _ = os.Unsetenv("EDITOR") })

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestConfigSource(t *testing.T) {
	dir := testEnv(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("db:\n  driver: postgres\nuser: 3\n"), 0644))

	file := viper.New()
	file.SetConfigFile(cfgPath)
	require.NoError(t, file.ReadInConfig())

	assert.Equal(t, "file", configSource("db.driver", file))
	assert.Equal(t, "file", configSource("user", file))
	assert.Equal(t, "default", configSource("db.path", file))

	t.Setenv("ARZU_DB_PATH", "/tmp/other.db")
	assert.Equal(t, "env: ARZU_DB_PATH", configSource("db.path", file))

	missing := viper.New()
	missing.SetConfigFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, missing.ReadInConfig())
	assert.Equal(t, "default", configSource("db.driver", missing))
}

func TestConfigShow_ListsSources(t *testing.T) {
	dir := testEnv(t)
	out := &bytes.Buffer{}
	ui.Out = out
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("zombie:\n  threshold: 90m\n"), 0644))

	require.NoError(t, configShowRun())
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, "zombie.threshold") {
			assert.Contains(t, line, "file")
		}
		if strings.Contains(line, "db.driver") {
			assert.Contains(t, line, "default")
		}
	}
	assert.NotContains(t, out.String(), "api_key")
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestConfigInit_RoundTrip(t *testing.T) {
	dir := testEnv(t)
	require.NoError(t, configInitRun())

	viper.Reset()
	viper.SetConfigFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, viper.ReadInConfig())

	assert.Equal(t, "sqlite", viper.GetString("db.driver"))
	assert.Equal(t, int64(1), viper.GetInt64("user"))
	assert.Equal(t, 120*time.Minute, viper.GetDuration("zombie.threshold"))
	assert.Equal(t, 12*time.Hour, viper.GetDuration("zombie.session_threshold"))
	assert.Equal(t, "+08:00", viper.GetString("stats.histogram_offset"))
	assert.Equal(t, 300.0, viper.GetFloat64("stats.outlier_ceiling"))
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "ARZU_ZOMBIE_BATCH_SIZE", envName("zombie.batch_size"))
	assert.Equal(t, "ARZU_USER", envName("user"))
	assert.Len(t, shownKeys, 19)
}

func TestNewLogger_Levels(t *testing.T) {
	l := newLogger("warn", "json")
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, l.Enabled(context.Background(), slog.LevelWarn))

	l = newLogger("bogus", "text")
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
}
