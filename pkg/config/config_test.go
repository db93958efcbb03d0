package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })

	os.Setenv("APPPOOL_SPAWNER_COMMAND", "/bin/true")
	t.Cleanup(func() { os.Unsetenv("APPPOOL_SPAWNER_COMMAND") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Pool.Max)
	assert.Equal(t, 5*time.Minute, cfg.Pool.MaxIdleTime)
	assert.Equal(t, "/bin/true", cfg.Spawner.Command)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  max: 4
  max_per_app: 2
spawner:
  command: /usr/bin/worker
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.Max)
	assert.Equal(t, 2, cfg.Pool.MaxPerApp)
	assert.Equal(t, "/usr/bin/worker", cfg.Spawner.Command)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Config{Pool: PoolConfig{Max: 0}, Spawner: SpawnerConfig{Command: "x"}, Log: LogConfig{Format: "text"}}
	require.Error(t, cfg.Validate())

	cfg = Config{Pool: PoolConfig{Max: 1}, Spawner: SpawnerConfig{Command: ""}, Log: LogConfig{Format: "text"}}
	require.Error(t, cfg.Validate())

	cfg = Config{Pool: PoolConfig{Max: 1}, Spawner: SpawnerConfig{Command: "x"}, Log: LogConfig{Format: "xml"}}
	require.Error(t, cfg.Validate())
}
