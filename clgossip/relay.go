package clgossip

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clp2p"
	"github.com/stakewithus/CasperLabs/internal/gchan"
	"github.com/stakewithus/CasperLabs/internal/glog"
)

// RelayConfig configures a [Relayer].
type RelayConfig struct {
	// RelayFactor is the number of distinct peers that should accept
	// each announced hash as new. Zero disables relaying.
	RelayFactor int

	// RelaySaturation, in percent (0-100), caps how many peers may be
	// contacted in pursuit of RelayFactor acceptances. At 0 exactly
	// RelayFactor peers are tried; at 100 there is no cap.
	RelaySaturation int

	// IsSynchronous makes Relay block until the round completes,
	// returning an already-completed handle.
	IsSynchronous bool
}

// DefaultRelayConfig returns the default relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		RelayFactor:     2,
		RelaySaturation: 90,
	}
}

// maxToTry derives the contact cap from the saturation knob.
func (c RelayConfig) maxToTry() int {
	if c.RelaySaturation == 100 {
		return math.MaxInt
	}
	return c.RelayFactor * 100 / (100 - c.RelaySaturation)
}

// Relayer announces block availability to a bounded, randomized
// subset of live peers. Announcements are best-effort: per-peer
// failures are counted and logged, never returned.
type Relayer struct {
	log *slog.Logger

	self clp2p.Node
	disc clp2p.Discovery
	conn clp2p.Connector

	cfg      RelayConfig
	maxToTry int

	metrics *Metrics

	// Overridable for deterministic tests; nil means a uniform shuffle.
	shuffle func(n int, swap func(i, j int))
}

// NewRelayer validates cfg and returns a Relayer.
// A nil metrics uses [NopMetrics].
func NewRelayer(
	log *slog.Logger,
	self clp2p.Node,
	disc clp2p.Discovery,
	conn clp2p.Connector,
	cfg RelayConfig,
	metrics *Metrics,
) (*Relayer, error) {
	if cfg.RelayFactor < 0 {
		return nil, &ConfigurationError{Field: "RelayFactor", Reason: "must not be negative"}
	}
	if cfg.RelaySaturation < 0 || cfg.RelaySaturation > 100 {
		return nil, &ConfigurationError{Field: "RelaySaturation", Reason: "must be within [0, 100]"}
	}
	if metrics == nil {
		metrics = NopMetrics()
	}

	return &Relayer{
		log:      log,
		self:     self,
		disc:     disc,
		conn:     conn,
		cfg:      cfg,
		maxToTry: cfg.maxToTry(),
		metrics:  metrics,
		shuffle:  rand.Shuffle,
	}, nil
}

// RelayHandle completes when a relay round has finished.
// Completion means round termination, not delivery to any peer.
type RelayHandle struct {
	done chan struct{}
}

func completedRelayHandle() *RelayHandle {
	h := &RelayHandle{done: make(chan struct{})}
	close(h.done)
	return h
}

// Done returns a channel closed when the round completes.
func (h *RelayHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the round completes or ctx expires.
func (h *RelayHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

// Relay announces each hash to a bounded set of peers.
// All hashes proceed concurrently, each against an independently
// shuffled snapshot of the current peer list.
//
// With IsSynchronous set, Relay returns only after the round ends;
// otherwise the round runs in the background and the returned handle
// observes it.
func (r *Relayer) Relay(ctx context.Context, hashes []clblock.Hash) *RelayHandle {
	if r.cfg.RelayFactor <= 0 || len(hashes) == 0 {
		return completedRelayHandle()
	}

	h := &RelayHandle{done: make(chan struct{})}

	run := func() {
		defer close(h.done)

		var wg sync.WaitGroup
		for _, hash := range hashes {
			wg.Add(1)
			go func(hash clblock.Hash) {
				defer wg.Done()
				r.relayHash(ctx, hash)
			}(hash)
		}
		wg.Wait()
	}

	if r.cfg.IsSynchronous {
		run()
	} else {
		go run()
	}

	return h
}

func (r *Relayer) relayHash(ctx context.Context, hash clblock.Hash) {
	peers, err := r.disc.RecentlyAlivePeersAscendingDistance(ctx)
	if err != nil {
		r.log.Warn(
			"Could not list peers for relay",
			"block", glog.Hex(hash),
			"err", err,
		)
		return
	}

	// Snapshot shuffled per hash, so different hashes visit
	// different peers. Peers that die mid-round are not replaced.
	peers = append([]clp2p.Node(nil), peers...)
	r.shuffle(len(peers), func(i, j int) {
		peers[i], peers[j] = peers[j], peers[i]
	})

	var relayed, contacted int
	for {
		parallelism := min(r.cfg.RelayFactor-relayed, r.maxToTry-contacted)
		if parallelism <= 0 || contacted >= len(peers) {
			break
		}

		batch := peers[contacted:min(contacted+parallelism, len(peers))]

		outcomes := make(chan bool, len(batch))
		for _, peer := range batch {
			go func(peer clp2p.Node) {
				outcomes <- r.announce(ctx, peer, hash)
			}(peer)
		}
		for range batch {
			accepted, ok := gchan.RecvC(ctx, r.log, outcomes, "collecting relay outcome")
			if !ok {
				// Shutdown mid-round; outcome senders are buffered.
				return
			}
			if accepted {
				relayed++
			}
			contacted++
		}
	}

	r.log.Debug(
		"Relay round for block finished",
		"block", glog.Hex(hash),
		"relayed", relayed,
		"contacted", contacted,
	)
}

// announce offers one hash to one peer, reporting whether the peer
// accepted it as new. Transport and remote errors count the peer as
// contacted but not relayed.
func (r *Relayer) announce(ctx context.Context, peer clp2p.Node, hash clblock.Hash) bool {
	svc, err := r.conn.Connect(ctx, peer)
	if err != nil {
		r.metrics.RelayFailed.Add(1)
		r.log.Warn(
			"Could not connect to peer for relay",
			"peer", peer,
			"block", glog.Hex(hash),
			"err", err,
		)
		return false
	}
	defer svc.Close()

	resp, err := svc.NewBlocks(ctx, clp2p.NewBlocksRequest{
		Sender:      r.self,
		BlockHashes: []clblock.Hash{hash},
	})
	if err != nil {
		r.metrics.RelayFailed.Add(1)
		r.log.Warn(
			"Relay announcement failed",
			"peer", peer,
			"block", glog.Hex(hash),
			"err", err,
		)
		return false
	}

	if resp.IsNew {
		r.metrics.RelayAccepted.Add(1)
		return true
	}
	r.metrics.RelayRejected.Add(1)
	return false
}
