// Package clconfig loads and validates the node's YAML configuration.
package clconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/stakewithus/CasperLabs/clgossip"
)

// Duration wraps time.Duration with YAML parsing of strings
// like "500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// NodeConfig holds node-level settings.
type NodeConfig struct {
	// Name is the node's display name; empty means a generated one.
	Name string `yaml:"name"`

	// DataDir is the block store directory.
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the libp2p listen multiaddr.
	ListenAddr string `yaml:"listen_addr"`

	// MetricsListenAddr is the HTTP listen address for metrics and
	// debug endpoints; empty disables the HTTP server.
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
}

// RelayConfig mirrors the relay knobs of the gossip core.
type RelayConfig struct {
	RelayFactor     int  `yaml:"relay_factor"`
	RelaySaturation int  `yaml:"relay_saturation"`
	IsSynchronous   bool `yaml:"is_synchronous"`
}

// RetriesConfig mirrors the download retry knobs.
type RetriesConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	BackoffFactor  float64  `yaml:"backoff_factor"`
}

// DownloadConfig holds download manager settings.
type DownloadConfig struct {
	MaxParallelDownloads int           `yaml:"max_parallel_downloads"`
	ChunkSize            int           `yaml:"chunk_size"`
	Retries              RetriesConfig `yaml:"retries"`
}

// Config is the full node configuration file.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Relay    RelayConfig    `yaml:"relay"`
	Download DownloadConfig `yaml:"download"`
}

// DefaultConfig returns the configuration used
// when no file or field overrides it.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			DataDir:           "./data",
			ListenAddr:        "/ip4/0.0.0.0/tcp/40400",
			MetricsListenAddr: "127.0.0.1:40403",
		},
		Relay: RelayConfig{
			RelayFactor:     2,
			RelaySaturation: 90,
		},
		Download: DownloadConfig{
			MaxParallelDownloads: 4,
			ChunkSize:            clgossip.DefaultChunkSize,
			Retries: RetriesConfig{
				MaxRetries:     3,
				InitialBackoff: Duration(500 * time.Millisecond),
				BackoffFactor:  2.0,
			},
		},
	}
}

// Load reads a YAML file over DefaultConfig and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every bounded knob,
// returning a [*clgossip.ConfigurationError] on the first violation.
func (c Config) Validate() error {
	if c.Node.DataDir == "" {
		return &clgossip.ConfigurationError{Field: "node.data_dir", Reason: "must not be empty"}
	}
	if c.Relay.RelayFactor < 0 {
		return &clgossip.ConfigurationError{Field: "relay.relay_factor", Reason: "must not be negative"}
	}
	if c.Relay.RelaySaturation < 0 || c.Relay.RelaySaturation > 100 {
		return &clgossip.ConfigurationError{Field: "relay.relay_saturation", Reason: "must be within [0, 100]"}
	}
	if c.Download.MaxParallelDownloads < 1 {
		return &clgossip.ConfigurationError{Field: "download.max_parallel_downloads", Reason: "must be at least 1"}
	}
	if c.Download.ChunkSize < 1 {
		return &clgossip.ConfigurationError{Field: "download.chunk_size", Reason: "must be at least 1"}
	}
	if c.Download.Retries.MaxRetries < 0 {
		return &clgossip.ConfigurationError{Field: "download.retries.max_retries", Reason: "must not be negative"}
	}
	if c.Download.Retries.InitialBackoff < 0 {
		return &clgossip.ConfigurationError{Field: "download.retries.initial_backoff", Reason: "must not be negative"}
	}
	if c.Download.Retries.BackoffFactor < 1.0 {
		return &clgossip.ConfigurationError{Field: "download.retries.backoff_factor", Reason: "must be at least 1.0"}
	}
	return nil
}

// GossipRelayConfig converts to the core's relay configuration.
func (c Config) GossipRelayConfig() clgossip.RelayConfig {
	return clgossip.RelayConfig{
		RelayFactor:     c.Relay.RelayFactor,
		RelaySaturation: c.Relay.RelaySaturation,
		IsSynchronous:   c.Relay.IsSynchronous,
	}
}

// GossipRetryConfig converts to the core's retry configuration.
func (c Config) GossipRetryConfig() clgossip.RetryConfig {
	return clgossip.RetryConfig{
		MaxRetries:     c.Download.Retries.MaxRetries,
		InitialBackoff: time.Duration(c.Download.Retries.InitialBackoff),
		BackoffFactor:  c.Download.Retries.BackoffFactor,
	}
}
