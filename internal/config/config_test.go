package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ringdht/internal/logs"
	"ringdht/internal/ring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[Node]
Name = "n1"
Address = "00000000000000000000000000000000000001f4"
Listen = ":7001"
Endpoint = "10.0.0.1:7001"

[Replication]
MaxParallelTransfers = 4
TransfersPerSecond = 50.0
ForwardTimeout = "3s"

[Peers]
Members = ["0000000000000000000000000000000000000258@10.0.0.2:7001"]
HeartbeatInterval = "500ms"

[Peers.Retry]
MaxRetries = 5

[Sweep]
Interval = "1m"

[Log]
Level = "debug"
`

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Replication.MaxParallelTransfers)
	assert.Zero(t, cfg.Replication.ForwardTimeout)
	assert.Zero(t, cfg.Sweep.Interval, "periodic sweep is opt-in")

	self, err := cfg.SelfAddress()
	require.NoError(t, err)
	assert.Equal(t, ring.HashAddress([]byte(cfg.Node.Endpoint)), self)
}

func TestDecodeOverDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, Decode(strings.NewReader(sample), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "n1", cfg.Node.Name)
	self, err := cfg.SelfAddress()
	require.NoError(t, err)
	assert.Equal(t, ring.FromUint64(500), self)

	members, err := cfg.Members()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, ring.FromUint64(600), members[0].Address)
	assert.Equal(t, "10.0.0.2:7001", members[0].Endpoint)

	pc := cfg.PeersConfig()
	assert.Equal(t, 5, pc.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, pc.Retry.BaseBackoff, "untouched fields keep their defaults")
	assert.Equal(t, 500*time.Millisecond, pc.Heartbeat.Interval)
	assert.Equal(t, 3*time.Second, pc.Timeout.RPCTimeout)
	require.NotNil(t, pc.Retry.JitterFn)

	rc := cfg.ReplicationConfig()
	assert.Equal(t, 4, rc.MaxParallelTransfers)
	assert.Equal(t, 50.0, rc.TransfersPerSecond)

	assert.Equal(t, time.Minute, time.Duration(cfg.Sweep.Interval))
	assert.Equal(t, logs.DEBUG, cfg.LogLevel())
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	cfg := Default()
	err := Decode(strings.NewReader("[Node]\nPort = 1\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Port")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Node.Listen)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Peers.Members = []string{"0000000000000000000000000000000000000258@b:1"}
	cfg.Replication.ForwardTimeout = Duration(2 * time.Second)

	out, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"2s"`)

	back := Default()
	require.NoError(t, Decode(strings.NewReader(string(out)), &back))
	assert.Equal(t, cfg, back)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad address", func(c *Config) { c.Node.Address = "zz" }},
		{"no address or endpoint", func(c *Config) { c.Node.Endpoint = "" }},
		{"no listen", func(c *Config) { c.Node.Listen = "" }},
		{"zero parallelism", func(c *Config) { c.Replication.MaxParallelTransfers = 0 }},
		{"negative rate", func(c *Config) { c.Replication.TransfersPerSecond = -1 }},
		{"bad member", func(c *Config) { c.Peers.Members = []string{"nope"} }},
		{"zero heartbeat interval", func(c *Config) { c.Peers.HeartbeatInterval = 0 }},
		{"zero threshold", func(c *Config) { c.Peers.FailureThreshold = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
