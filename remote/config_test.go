package remote

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
host = "studio.example.net"
port = 4460
password = "hunter2"
tls = true
connect_timeout = "5s"
subscriptions = 7
event_backlog = 25
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "studio.example.net", cfg.Host)
	assert.Equal(t, 4460, cfg.Port)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.True(t, cfg.TLS)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, SubGeneral|SubConfig|SubScenes, cfg.Subscriptions)
	assert.Equal(t, 25, cfg.EventBacklog)
	assert.Equal(t, "wss://studio.example.net:4460", cfg.url())
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `password = "hunter2"`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, defaults.Host, cfg.Host)
	assert.Equal(t, defaults.Port, cfg.Port)
	assert.Equal(t, defaults.ConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, defaults.Subscriptions, cfg.Subscriptions)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, "ws://localhost:4455", cfg.url())
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `connect_timeout = "soon"`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigInvalidPort(t *testing.T) {
	path := writeConfig(t, `port = 70000`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
