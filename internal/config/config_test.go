package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/botstream/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "botstream")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	path := filepath.Join(configDir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Server.Listen)
	assert.Nil(t, cfg.Session.Compress)
	assert.Nil(t, cfg.Log.Level)
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, `
[server]
listen = ":8080"
path = "/bot"
pipe = "/run/bot.sock"
metrics_listen = "127.0.0.1:9090"

[session]
request_timeout = "5s"
compress = true
send_limit = "10MB"

[log]
level = "debug"
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Server.Listen)
	assert.Equal(t, ":8080", *cfg.Server.Listen)
	require.NotNil(t, cfg.Server.Path)
	assert.Equal(t, "/bot", *cfg.Server.Path)
	require.NotNil(t, cfg.Server.Pipe)
	assert.Equal(t, "/run/bot.sock", *cfg.Server.Pipe)
	require.NotNil(t, cfg.Server.MetricsListen)
	assert.Equal(t, "127.0.0.1:9090", *cfg.Server.MetricsListen)

	require.NotNil(t, cfg.Session.Compress)
	assert.True(t, *cfg.Session.Compress)

	timeout, err := cfg.Session.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)

	limit, err := cfg.Session.SendLimitBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), limit)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_PartialConfig(t *testing.T) {
	writeConfig(t, `
[log]
level = "warn"
`)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Server.Listen)

	timeout, err := cfg.Session.Timeout()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRequestTimeout, timeout)

	limit, err := cfg.Session.SendLimitBytes()
	require.NoError(t, err)
	assert.Zero(t, limit)
}

func TestLoad_InvalidTOML(t *testing.T) {
	writeConfig(t, "invalid [[[")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	writeConfig(t, `
[session]
request_timout = "5s"
`)

	_, err := config.Load()
	assert.ErrorContains(t, err, "request_timout")
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInvalidValues(t *testing.T) {
	t.Parallel()

	bad := "soon"
	_, err := config.SessionConfig{RequestTimeout: &bad}.Timeout()
	assert.Error(t, err)

	negative := "-1s"
	_, err = config.SessionConfig{RequestTimeout: &negative}.Timeout()
	assert.Error(t, err)

	_, err = config.SessionConfig{SendLimit: &bad}.SendLimitBytes()
	assert.Error(t, err)

	_, err = config.LogConfig{Level: &bad}.SlogLevel()
	assert.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/botstream/config.toml", config.Path())
}
