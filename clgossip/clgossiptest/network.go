package clgossiptest

import (
	"context"
	"fmt"
	"sync"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clp2p"
)

// NewNode builds a peer identity with a generated display name.
func NewNode(id string) clp2p.Node {
	return clp2p.Node{ID: id, Name: petname.Generate(2, "-")}
}

// StaticDiscovery serves a fixed peer list.
type StaticDiscovery struct {
	Peers []clp2p.Node

	// Err, if set, fails every listing.
	Err error
}

func (d *StaticDiscovery) RecentlyAlivePeersAscendingDistance(context.Context) ([]clp2p.Node, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return append([]clp2p.Node(nil), d.Peers...), nil
}

// ScriptedPeer is one fake remote peer. Any nil handler
// reports an unsupported-operation error.
type ScriptedPeer struct {
	Node clp2p.Node

	// ConnectErr fails Connect for this peer.
	ConnectErr error

	NewBlocksFn         func(clp2p.NewBlocksRequest) (clp2p.NewBlocksResponse, error)
	GetBlockChunkedFn   func(clp2p.GetBlockChunkedRequest) (clp2p.ChunkStream, error)
	GetBlockSummariesFn func(clp2p.GetBlockSummariesRequest) ([]clblock.Summary, error)
}

// FakeConnector connects to a set of scripted peers,
// counting connection attempts per peer.
type FakeConnector struct {
	mu       sync.Mutex
	peers    map[string]*ScriptedPeer
	connects map[string]int
}

// NewFakeConnector returns a connector serving the given peers.
func NewFakeConnector(peers ...*ScriptedPeer) *FakeConnector {
	c := &FakeConnector{
		peers:    make(map[string]*ScriptedPeer),
		connects: make(map[string]int),
	}
	for _, p := range peers {
		c.peers[p.Node.ID] = p
	}
	return c
}

// AddPeer registers another scripted peer.
func (c *FakeConnector) AddPeer(p *ScriptedPeer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[p.Node.ID] = p
}

// Connects reports how many times the given peer was connected to.
func (c *FakeConnector) Connects(peer clp2p.Node) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects[peer.ID]
}

func (c *FakeConnector) Connect(_ context.Context, peer clp2p.Node) (clp2p.GossipService, error) {
	c.mu.Lock()
	p, ok := c.peers[peer.ID]
	c.connects[peer.ID]++
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown peer %v", peer)
	}
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	return &scriptedSession{peer: p}, nil
}

type scriptedSession struct {
	peer *ScriptedPeer
}

func (s *scriptedSession) NewBlocks(
	_ context.Context, req clp2p.NewBlocksRequest,
) (clp2p.NewBlocksResponse, error) {
	if s.peer.NewBlocksFn == nil {
		return clp2p.NewBlocksResponse{}, fmt.Errorf("peer %v does not serve NewBlocks", s.peer.Node)
	}
	return s.peer.NewBlocksFn(req)
}

func (s *scriptedSession) GetBlockChunked(
	_ context.Context, req clp2p.GetBlockChunkedRequest,
) (clp2p.ChunkStream, error) {
	if s.peer.GetBlockChunkedFn == nil {
		return nil, fmt.Errorf("peer %v does not serve GetBlockChunked", s.peer.Node)
	}
	return s.peer.GetBlockChunkedFn(req)
}

func (s *scriptedSession) GetBlockSummaries(
	_ context.Context, req clp2p.GetBlockSummariesRequest,
) ([]clblock.Summary, error) {
	if s.peer.GetBlockSummariesFn == nil {
		return nil, fmt.Errorf("peer %v does not serve GetBlockSummaries", s.peer.Node)
	}
	return s.peer.GetBlockSummariesFn(req)
}

func (s *scriptedSession) Close() error {
	return nil
}
