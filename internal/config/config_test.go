package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/matchcall/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(32768), cfg.Relay.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.Relay.PingPeriod)
	assert.Equal(t, "memory", cfg.Relay.Broker)
	assert.Equal(t, "ws://localhost:8080/api/ws/bus", cfg.Caller.RelayURL)
	require.Len(t, cfg.Caller.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Caller.ICEServers[0].URLs)
}

func TestLoadFileYAML(t *testing.T) {
	path := writeConfig(t, `
mode: debug
port: 9000
secret: s3cret
relay:
  broker: redis
  redis_addr: localhost:6379
  rate_limit: 5
  rate_interval: 2s
caller:
  relay_url: ws://relay.example:9000/api/ws/bus
  ice_servers:
    - urls: ["stun:stun.example:3478"]
    - urls: ["turn:turn.example:3478"]
      username: u
      credential: p
  profiles:
    u2:
      display_name: Alex
      birthdate: "1995-06-15"
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "redis", cfg.Relay.Broker)
	assert.Equal(t, 2*time.Second, cfg.Relay.RateInterval)

	servers := cfg.Caller.WebRTCICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)

	store, err := cfg.Caller.ProfileStore()
	require.NoError(t, err)
	p, ok := store[domain.UserID("u2")]
	require.True(t, ok)
	assert.Equal(t, "Alex", p.Name())
	age, ok := p.Age(time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 29, age)
}

func TestLoadFileEnvOverride(t *testing.T) {
	t.Setenv("MATCHCALL_RELAY_SEND_BUFFER", "7")
	t.Setenv("MATCHCALL_PORT", "9999")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Relay.SendBuffer)
	assert.Equal(t, 9999, cfg.Port)
}

func TestLoadFileValidation(t *testing.T) {
	path := writeConfig(t, `
relay:
  broker: redis
`)
	_, err := LoadFile(path)
	assert.Error(t, err, "redis broker requires an address")

	path = writeConfig(t, `
relay:
  broker: kafka
`)
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileMalformedYAML(t *testing.T) {
	path := writeConfig(t, "relay:\n  broker: [memory\n port: 8080\n")
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestProfileStoreRejectsBadBirthdate(t *testing.T) {
	c := CallerConfig{Profiles: map[string]ProfileConfig{"u1": {Birthdate: "15/06/1995"}}}
	_, err := c.ProfileStore()
	assert.Error(t, err)
}
