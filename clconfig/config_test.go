package clconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stakewithus/CasperLabs/clconfig"
	"github.com/stakewithus/CasperLabs/clgossip"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_isValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, clconfig.DefaultConfig().Validate())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  name: testnode
  data_dir: /tmp/cl-data
relay:
  relay_factor: 3
  relay_saturation: 50
download:
  max_parallel_downloads: 8
  retries:
    max_retries: 5
    initial_backoff: 250ms
    backoff_factor: 1.5
`), 0o600))

	cfg, err := clconfig.Load(path)
	require.NoError(t, err)

	require.Equal(t, "testnode", cfg.Node.Name)
	require.Equal(t, "/tmp/cl-data", cfg.Node.DataDir)

	// Unset fields keep their defaults.
	require.Equal(t, clconfig.DefaultConfig().Node.ListenAddr, cfg.Node.ListenAddr)

	require.Equal(t, clgossip.RelayConfig{RelayFactor: 3, RelaySaturation: 50}, cfg.GossipRelayConfig())
	require.Equal(t, clgossip.RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 250 * time.Millisecond,
		BackoffFactor:  1.5,
	}, cfg.GossipRetryConfig())
}

func TestLoad_unknownKeyFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes: {}\n"), 0o600))

	_, err := clconfig.Load(path)
	require.Error(t, err)
}

func TestValidate_rejectsBadKnobs(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		mutate func(*clconfig.Config)
	}{
		{"empty data dir", func(c *clconfig.Config) { c.Node.DataDir = "" }},
		{"negative relay factor", func(c *clconfig.Config) { c.Relay.RelayFactor = -1 }},
		{"saturation above 100", func(c *clconfig.Config) { c.Relay.RelaySaturation = 101 }},
		{"zero parallel downloads", func(c *clconfig.Config) { c.Download.MaxParallelDownloads = 0 }},
		{"zero chunk size", func(c *clconfig.Config) { c.Download.ChunkSize = 0 }},
		{"negative retries", func(c *clconfig.Config) { c.Download.Retries.MaxRetries = -1 }},
		{"negative backoff", func(c *clconfig.Config) { c.Download.Retries.InitialBackoff = -1 }},
		{"factor below one", func(c *clconfig.Config) { c.Download.Retries.BackoffFactor = 0.9 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := clconfig.DefaultConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			require.True(t, clgossip.IsConfigurationError(err))
		})
	}
}
