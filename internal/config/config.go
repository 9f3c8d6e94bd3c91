// Package config loads the node configuration. Values come from
// Default, then the TOML file, then command-line flags.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"

	"ringdht/internal/logs"
	"ringdht/internal/overlay"
	"ringdht/internal/peers"
	"ringdht/internal/replication"
	"ringdht/internal/ring"
)

// Field names in the file match the Go field names exactly.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Duration is a time.Duration written as "1.5s" in the file.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type NodeConfig struct {
	Name string
	// Address is the node's ring position in hex. Empty derives it from
	// the SHA-1 of Endpoint.
	Address string
	// Listen is the local HTTP bind address.
	Listen string
	// Endpoint is how other members reach this node.
	Endpoint string
}

type TableConfig struct {
	AddressCacheSize int
}

type ReplicationConfig struct {
	MaxParallelTransfers int
	TransfersPerSecond   float64
	// ForwardTimeout bounds forwarded puts and transfers. Zero waits
	// until the neighbor answers.
	ForwardTimeout Duration
}

type RetryConfig struct {
	MaxRetries  int
	BaseBackoff Duration
	MaxBackoff  Duration
}

type PeersConfig struct {
	// Members lists the static ring as address@endpoint.
	Members []string

	Retry             RetryConfig
	HeartbeatTimeout  Duration
	HeartbeatInterval Duration
	FailureThreshold  int
	SuccessThreshold  int
}

type SweepConfig struct {
	// Interval of the periodic expiry sweep. Zero disables it.
	Interval Duration
}

type LogConfig struct {
	Level      string
	BufferSize int
}

type Config struct {
	Node        NodeConfig
	Table       TableConfig
	Replication ReplicationConfig
	Peers       PeersConfig
	Sweep       SweepConfig
	Log         LogConfig
}

// Default returns the configuration of a standalone node on :64221.
func Default() Config {
	pc := peers.DefaultConfig()
	return Config{
		Node: NodeConfig{
			Name:     "dht-node",
			Listen:   ":64221",
			Endpoint: "127.0.0.1:64221",
		},
		Table: TableConfig{AddressCacheSize: 4096},
		Replication: ReplicationConfig{
			MaxParallelTransfers: replication.DefaultConfig().MaxParallelTransfers,
		},
		Peers: PeersConfig{
			Retry: RetryConfig{
				MaxRetries:  pc.Retry.MaxRetries,
				BaseBackoff: Duration(pc.Retry.BaseBackoff),
				MaxBackoff:  Duration(pc.Retry.MaxBackoff),
			},
			HeartbeatTimeout:  Duration(pc.Timeout.HeartbeatTimeout),
			HeartbeatInterval: Duration(pc.Heartbeat.Interval),
			FailureThreshold:  pc.Health.FailureThreshold,
			SuccessThreshold:  pc.Health.SuccessThreshold,
		},
		Log: LogConfig{Level: "INFO", BufferSize: 1000},
	}
}

// Load decodes the TOML file at path over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := Decode(bufio.NewReader(f), &cfg); err != nil {
		return cfg, fmt.Errorf("%s, %w", path, err)
	}
	return cfg, nil
}

// Decode reads TOML from r into cfg, keeping fields the input leaves out.
func Decode(r io.Reader, cfg *Config) error {
	return tomlSettings.NewDecoder(r).Decode(cfg)
}

// Marshal renders cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	return tomlSettings.Marshal(&cfg)
}

// Validate checks the fields that cannot be defaulted.
func (c Config) Validate() error {
	if _, err := c.SelfAddress(); err != nil {
		return err
	}
	if c.Node.Listen == "" {
		return errors.New("config: Node.Listen is empty")
	}
	if c.Replication.MaxParallelTransfers <= 0 {
		return fmt.Errorf("config: Replication.MaxParallelTransfers must be positive, got %d", c.Replication.MaxParallelTransfers)
	}
	if c.Replication.TransfersPerSecond < 0 {
		return fmt.Errorf("config: Replication.TransfersPerSecond must not be negative, got %g", c.Replication.TransfersPerSecond)
	}
	if c.Peers.HeartbeatInterval <= 0 {
		return errors.New("config: Peers.HeartbeatInterval must be positive")
	}
	if c.Peers.FailureThreshold <= 0 || c.Peers.SuccessThreshold <= 0 {
		return errors.New("config: Peers thresholds must be positive")
	}
	if _, err := c.Members(); err != nil {
		return err
	}
	if _, err := logs.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SelfAddress is the configured ring address, or the hash of the endpoint
// when none is set.
func (c Config) SelfAddress() (ring.Address, error) {
	if c.Node.Address == "" {
		if c.Node.Endpoint == "" {
			return ring.Address{}, errors.New("config: Node.Address and Node.Endpoint are both empty")
		}
		return ring.HashAddress([]byte(c.Node.Endpoint)), nil
	}
	a, err := ring.ParseAddress(c.Node.Address)
	if err != nil {
		return ring.Address{}, fmt.Errorf("config: Node.Address: %w", err)
	}
	return a, nil
}

// Members parses Peers.Members.
func (c Config) Members() ([]overlay.Peer, error) {
	out := make([]overlay.Peer, 0, len(c.Peers.Members))
	for _, m := range c.Peers.Members {
		p, err := overlay.ParsePeer(m)
		if err != nil {
			return nil, fmt.Errorf("config: Peers.Members: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// PeersConfig converts the membership policies.
func (c Config) PeersConfig() peers.Config {
	pc := peers.DefaultConfig()
	pc.Retry.MaxRetries = c.Peers.Retry.MaxRetries
	pc.Retry.BaseBackoff = time.Duration(c.Peers.Retry.BaseBackoff)
	pc.Retry.MaxBackoff = time.Duration(c.Peers.Retry.MaxBackoff)
	pc.Timeout.RPCTimeout = time.Duration(c.Replication.ForwardTimeout)
	pc.Timeout.HeartbeatTimeout = time.Duration(c.Peers.HeartbeatTimeout)
	pc.Heartbeat.Interval = time.Duration(c.Peers.HeartbeatInterval)
	pc.Health.FailureThreshold = c.Peers.FailureThreshold
	pc.Health.SuccessThreshold = c.Peers.SuccessThreshold
	return pc
}

// ReplicationConfig converts the transfer limits.
func (c Config) ReplicationConfig() replication.Config {
	return replication.Config{
		MaxParallelTransfers: c.Replication.MaxParallelTransfers,
		TransfersPerSecond:   c.Replication.TransfersPerSecond,
	}
}

// LogLevel parses Log.Level. Validate has already rejected bad names.
func (c Config) LogLevel() logs.Level {
	lvl, err := logs.ParseLevel(c.Log.Level)
	if err != nil {
		return logs.INFO
	}
	return lvl
}
