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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "echo", cfg.Server.Name)
	assert.Equal(t, 100, cfg.Server.HistoryLimit)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Client.Origin)
	assert.Equal(t, 5, cfg.Client.MaxReconnect)
	assert.Equal(t, 3*time.Second, cfg.Client.ReconnectDelay)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echo.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9001
name = "lab-echo"
data_path = "/tmp/echo"

[client]
origin = "https://echo.example.org"
reconnect_delay = "750ms"

[log]
level = "debug"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "lab-echo", cfg.Server.Name)
	assert.Equal(t, "/tmp/echo", cfg.Server.DataPath)
	assert.Equal(t, "https://echo.example.org", cfg.Client.Origin)
	assert.Equal(t, 750*time.Millisecond, cfg.Client.ReconnectDelay)
	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.Client.MaxReconnect)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echo.toml")
	require.NoError(t, os.WriteFile(path, []byte("[client]\nmax_reconnect = 2\n"), 0o644))
	t.Setenv("PORTAL_ECHO_CLIENT_MAX__RECONNECT", "7")
	t.Setenv("PORTAL_ECHO_SERVER_RELAY__URLS", "wss://a.example/relay,wss://b.example/relay")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Client.MaxReconnect)
	assert.Equal(t, []string{"wss://a.example/relay", "wss://b.example/relay"}, cfg.Server.RelayList())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"blank name", func(c *Config) { c.Server.Name = "  " }},
		{"negative history", func(c *Config) { c.Server.HistoryLimit = -1 }},
		{"negative reconnects", func(c *Config) { c.Client.MaxReconnect = -2 }},
		{"zero delay", func(c *Config) { c.Client.ReconnectDelay = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, defaultConfig().Validate())
}

func TestRelayList(t *testing.T) {
	s := ServerConfig{RelayURLs: []string{"", "wss://a/relay, wss://b/relay", " "}}
	assert.Equal(t, []string{"wss://a/relay", "wss://b/relay"}, s.RelayList())
	assert.Nil(t, ServerConfig{}.RelayList())
}
