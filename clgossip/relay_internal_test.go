package clgossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-kit/kit/metrics/generic"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clp2p"
)

// testMetrics builds Metrics over generic collectors
// so counter values can be asserted.
func testMetrics() *Metrics {
	return &Metrics{
		RelayAccepted:      generic.NewCounter("relay_accepted"),
		RelayRejected:      generic.NewCounter("relay_rejected"),
		RelayFailed:        generic.NewCounter("relay_failed"),
		DownloadsSucceeded: generic.NewCounter("downloads_succeeded"),
		DownloadsFailed:    generic.NewCounter("downloads_failed"),
		DownloadsScheduled: generic.NewGauge("downloads_scheduled"),
		DownloadsOngoing:   generic.NewGauge("downloads_ongoing"),
		FetchesOngoing:     generic.NewGauge("fetches_ongoing"),
	}
}

func counterValue(t *testing.T, c any) float64 {
	t.Helper()
	g, ok := c.(*generic.Counter)
	require.True(t, ok)
	return g.Value()
}

// identityShuffle keeps the peer list in discovery order,
// making round contents deterministic.
func identityShuffle(int, func(i, j int)) {}

type relayFixture struct {
	peers   []clp2p.Node
	conn    *fakeRelayConnector
	disc    *fakeDiscovery
	metrics *Metrics
}

type fakeDiscovery struct {
	peers []clp2p.Node
	err   error
}

func (d *fakeDiscovery) RecentlyAlivePeersAscendingDistance(context.Context) ([]clp2p.Node, error) {
	if d.err != nil {
		return nil, d.err
	}
	return append([]clp2p.Node(nil), d.peers...), nil
}

// fakeRelayConnector answers NewBlocks per a scripted outcome table.
type fakeRelayConnector struct {
	mu sync.Mutex

	// outcome per peer ID: "accept", "reject", or "fail".
	outcomes map[string]string

	contacted []string
}

func (c *fakeRelayConnector) Connect(_ context.Context, peer clp2p.Node) (clp2p.GossipService, error) {
	c.mu.Lock()
	c.contacted = append(c.contacted, peer.ID)
	outcome := c.outcomes[peer.ID]
	c.mu.Unlock()

	if outcome == "connfail" {
		return nil, errors.New("connection refused")
	}
	return &fakeRelaySession{outcome: outcome}, nil
}

func (c *fakeRelayConnector) contactedPeers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.contacted...)
}

type fakeRelaySession struct {
	outcome string
}

func (s *fakeRelaySession) NewBlocks(context.Context, clp2p.NewBlocksRequest) (clp2p.NewBlocksResponse, error) {
	switch s.outcome {
	case "accept":
		return clp2p.NewBlocksResponse{IsNew: true}, nil
	case "reject":
		return clp2p.NewBlocksResponse{IsNew: false}, nil
	default:
		return clp2p.NewBlocksResponse{}, errors.New("remote error")
	}
}

func (s *fakeRelaySession) GetBlockChunked(context.Context, clp2p.GetBlockChunkedRequest) (clp2p.ChunkStream, error) {
	return nil, errors.New("not served")
}

func (s *fakeRelaySession) GetBlockSummaries(context.Context, clp2p.GetBlockSummariesRequest) ([]clblock.Summary, error) {
	return nil, errors.New("not served")
}

func (s *fakeRelaySession) Close() error { return nil }

func newRelayFixture(nPeers int, outcomes map[string]string) *relayFixture {
	peers := make([]clp2p.Node, nPeers)
	for i := range peers {
		peers[i] = clp2p.Node{ID: fmt.Sprintf("p%d", i+1)}
	}
	return &relayFixture{
		peers:   peers,
		conn:    &fakeRelayConnector{outcomes: outcomes},
		disc:    &fakeDiscovery{peers: peers},
		metrics: testMetrics(),
	}
}

func (fx *relayFixture) newRelayer(t *testing.T, cfg RelayConfig) *Relayer {
	t.Helper()

	r, err := NewRelayer(
		slogt.New(t),
		clp2p.Node{ID: "self"},
		fx.disc,
		fx.conn,
		cfg,
		fx.metrics,
	)
	require.NoError(t, err)
	r.shuffle = identityShuffle
	return r
}

func TestRelayer_saturationCapsContacts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Eight peers; the first six reject, the last two would accept
	// but must never be reached: relayFactor 3 at saturation 50
	// caps contacts at 6.
	fx := newRelayFixture(8, map[string]string{
		"p1": "reject", "p2": "reject", "p3": "reject",
		"p4": "reject", "p5": "reject", "p6": "reject",
		"p7": "accept", "p8": "accept",
	})
	r := fx.newRelayer(t, RelayConfig{RelayFactor: 3, RelaySaturation: 50, IsSynchronous: true})

	h := r.Relay(ctx, []clblock.Hash{clblock.HashBody([]byte("b"))})
	require.NoError(t, h.Wait(ctx))

	contacted := fx.conn.contactedPeers()
	require.ElementsMatch(t, []string{"p1", "p2", "p3", "p4", "p5", "p6"}, contacted)

	require.Zero(t, counterValue(t, fx.metrics.RelayAccepted))
	require.Equal(t, 6.0, counterValue(t, fx.metrics.RelayRejected))
}

func TestRelayer_stopsAtRelayFactor(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newRelayFixture(8, map[string]string{
		"p1": "accept", "p2": "accept", "p3": "accept",
		"p4": "accept", "p5": "accept", "p6": "accept",
		"p7": "accept", "p8": "accept",
	})
	r := fx.newRelayer(t, RelayConfig{RelayFactor: 2, RelaySaturation: 50, IsSynchronous: true})

	h := r.Relay(ctx, []clblock.Hash{clblock.HashBody([]byte("b"))})
	require.NoError(t, h.Wait(ctx))

	// The first round contacts exactly relayFactor peers,
	// both accept, so nobody else is tried.
	require.Len(t, fx.conn.contactedPeers(), 2)
	require.Equal(t, 2.0, counterValue(t, fx.metrics.RelayAccepted))
}

func TestRelayer_fullSaturationExhaustsPeers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Everyone rejects; at saturation 100 the round only ends
	// when the peer list is exhausted.
	outcomes := make(map[string]string)
	for i := 1; i <= 5; i++ {
		outcomes[fmt.Sprintf("p%d", i)] = "reject"
	}
	fx := newRelayFixture(5, outcomes)
	r := fx.newRelayer(t, RelayConfig{RelayFactor: 2, RelaySaturation: 100, IsSynchronous: true})

	h := r.Relay(ctx, []clblock.Hash{clblock.HashBody([]byte("b"))})
	require.NoError(t, h.Wait(ctx))

	require.Len(t, fx.conn.contactedPeers(), 5)
}

func TestRelayer_zeroFactorContactsNobody(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newRelayFixture(3, nil)
	r := fx.newRelayer(t, RelayConfig{RelayFactor: 0, RelaySaturation: 50, IsSynchronous: true})

	h := r.Relay(ctx, []clblock.Hash{clblock.HashBody([]byte("b"))})
	require.NoError(t, h.Wait(ctx))

	require.Empty(t, fx.conn.contactedPeers())
}

func TestRelayer_transportErrorsCountAsContacted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newRelayFixture(4, map[string]string{
		"p1": "connfail", "p2": "fail", "p3": "accept", "p4": "accept",
	})
	// Saturation 0: exactly relayFactor peers are ever tried.
	r := fx.newRelayer(t, RelayConfig{RelayFactor: 2, RelaySaturation: 0, IsSynchronous: true})

	h := r.Relay(ctx, []clblock.Hash{clblock.HashBody([]byte("b"))})
	require.NoError(t, h.Wait(ctx))

	// p1 and p2 consumed the whole contact budget despite failing.
	require.ElementsMatch(t, []string{"p1", "p2"}, fx.conn.contactedPeers())
	require.Equal(t, 2.0, counterValue(t, fx.metrics.RelayFailed))
	require.Zero(t, counterValue(t, fx.metrics.RelayAccepted))
}

func TestRelayer_asynchronousHandleCompletes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newRelayFixture(3, map[string]string{
		"p1": "accept", "p2": "accept", "p3": "accept",
	})
	r := fx.newRelayer(t, RelayConfig{RelayFactor: 1, RelaySaturation: 0})

	h := r.Relay(ctx, []clblock.Hash{clblock.HashBody([]byte("b"))})
	require.NoError(t, h.Wait(ctx))

	require.Len(t, fx.conn.contactedPeers(), 1)
}

func TestRelayer_discoveryFailureEndsRound(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newRelayFixture(3, nil)
	fx.disc.err = errors.New("discovery offline")
	r := fx.newRelayer(t, RelayConfig{RelayFactor: 2, RelaySaturation: 50, IsSynchronous: true})

	h := r.Relay(ctx, []clblock.Hash{clblock.HashBody([]byte("b"))})
	require.NoError(t, h.Wait(ctx))

	require.Empty(t, fx.conn.contactedPeers())
}

func TestNewRelayer_validation(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscovery{}
	conn := &fakeRelayConnector{}

	_, err := NewRelayer(slogt.New(t), clp2p.Node{}, disc, conn, RelayConfig{RelayFactor: -1}, nil)
	require.True(t, IsConfigurationError(err))

	_, err = NewRelayer(slogt.New(t), clp2p.Node{}, disc, conn, RelayConfig{RelayFactor: 1, RelaySaturation: 101}, nil)
	require.True(t, IsConfigurationError(err))
}

func TestRelayConfig_maxToTry(t *testing.T) {
	t.Parallel()

	require.Equal(t, 3, RelayConfig{RelayFactor: 3, RelaySaturation: 0}.maxToTry())
	require.Equal(t, 6, RelayConfig{RelayFactor: 3, RelaySaturation: 50}.maxToTry())
	require.Equal(t, 30, RelayConfig{RelayFactor: 3, RelaySaturation: 90}.maxToTry())

	unlimited := RelayConfig{RelayFactor: 3, RelaySaturation: 100}.maxToTry()
	require.Greater(t, unlimited, 1<<40)
}
