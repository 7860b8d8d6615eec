package clhttp_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/stakewithus/CasperLabs/clgossip"
	"github.com/stakewithus/CasperLabs/clhttp"
)

func startServer(t *testing.T, cfg clhttp.ServerConfig) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Listener = ln

	srv := clhttp.NewServer(ctx, slogt.New(t), cfg)
	t.Cleanup(func() {
		cancel()
		srv.Wait()
	})

	return fmt.Sprintf("http://%s", ln.Addr())
}

func TestServer_healthz(t *testing.T) {
	t.Parallel()

	base := startServer(t, clhttp.ServerConfig{})

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	clgossip.PrometheusMetricsOn(reg, "casperlabs")

	base := startServer(t, clhttp.ServerConfig{Gatherer: reg})

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// All gossip series are declared at zero before first use.
	for _, name := range []string{
		"casperlabs_gossip_relay_accepted",
		"casperlabs_gossip_relay_rejected",
		"casperlabs_gossip_relay_failed",
		"casperlabs_gossip_downloads_succeeded",
		"casperlabs_gossip_downloads_failed",
		"casperlabs_gossip_downloads_scheduled",
		"casperlabs_gossip_downloads_ongoing",
		"casperlabs_gossip_fetches_ongoing",
	} {
		require.True(t, strings.Contains(string(body), name+" 0"), "missing zero-valued series %s", name)
	}
}
