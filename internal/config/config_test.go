package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeSettings(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Relay.Listen)
	assert.Equal(t, "/call-signaling", cfg.Relay.Path)
	assert.Equal(t, time.Second, cfg.Client.ReconnectBase)
	assert.Equal(t, 30*time.Second, cfg.Client.ReconnectMax)
	assert.Equal(t, 3*time.Second, cfg.Call.ErrorRevertDelay)
	assert.True(t, cfg.Media.Audio)
	assert.True(t, cfg.Media.Video)

	servers, err := cfg.WebRTC.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, DefaultSTUNServers, servers[0].URLs)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeSettings(t, `
[log]
level = "debug"
format = "json"

[relay]
listen = "127.0.0.1:9000"

[[relay.users]]
user_id = "alice"
username = "alice"
full_name = "Alice Liddell"

[client]
relay_url = "wss://relay.example/call-signaling"
user_id = "alice"
username = "Al"
reconnect_base = "500ms"
reconnect_max = "10s"

[call]
ring_timeout = "0s"

[[webrtc.ice_servers]]
urls = ["turn:turn.example:3478"]
username = "u"
credential = "p"
`)
	t.Setenv("PEERCALL_CLIENT_USER_ID", "bob")
	t.Setenv("PEERCALL_MEDIA_VIDEO", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9000", cfg.Relay.Listen)
	require.Len(t, cfg.Relay.Users, 1)
	assert.Equal(t, "Alice Liddell", cfg.Relay.Users[0].FullName)
	assert.Equal(t, "bob", cfg.Client.UserID, "environment overrides the file")
	assert.Equal(t, "Al", cfg.Client.Username)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.ReconnectBase)
	assert.Zero(t, cfg.Call.RingTimeout)
	assert.False(t, cfg.Media.Video)

	servers, err := cfg.WebRTC.Servers()
	require.NoError(t, err)
	assert.Equal(t, "u", servers[0].Username)
	assert.Equal(t, "p", servers[0].Credential)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "log level", body: "[log]\nlevel = \"loud\""},
		{name: "listen address", body: "[relay]\nlisten = \"nowhere\""},
		{name: "relay url", body: "[client]\nrelay_url = \"\""},
		{name: "backoff cap below base", body: "[client]\nreconnect_base = \"10s\"\nreconnect_max = \"1s\""},
		{name: "user without id", body: "[[relay.users]]\nusername = \"ghost\""},
		{name: "port range", body: "[webrtc]\nport_min = 50000\nport_max = 40000"},
		{name: "turn without credentials", body: "[[webrtc.ice_servers]]\nurls = [\"turn:turn.example:3478\"]"},
		{name: "unknown ice scheme", body: "[[webrtc.ice_servers]]\nurls = [\"http://stun.example\"]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeSettings(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLogConfig_Logger(t *testing.T) {
	_, err := LogConfig{Level: "debug", Format: "json"}.Logger(os.Stderr)
	require.NoError(t, err)

	_, err = LogConfig{Level: "chatty", Format: "json"}.Logger(os.Stderr)
	assert.Error(t, err)
}
