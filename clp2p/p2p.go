// Package clp2p declares the peer-to-peer contract of the gossip core:
// peer identities, the gossip RPC surface, and the chunked block wire
// format. Transports implement these interfaces; the core only consumes
// them.
package clp2p

import (
	"context"

	"github.com/stakewithus/CasperLabs/clblock"
)

// Node identifies a peer on the gossip network.
type Node struct {
	// ID is the peer's stable network identity,
	// e.g. a libp2p peer ID in string form.
	ID string

	// Name is a human-readable display name for logs.
	// It carries no protocol meaning.
	Name string
}

// String renders the node for logs, preferring the display name.
func (n Node) String() string {
	if n.Name == "" {
		return n.ID
	}
	return n.Name + "(" + n.ID + ")"
}

// NewBlocksRequest announces block availability to a peer.
type NewBlocksRequest struct {
	// Sender is the announcing node, so the receiver knows
	// where the announced blocks can be fetched.
	Sender Node

	BlockHashes []clblock.Hash
}

// NewBlocksResponse reports whether any announced hash was new
// to the receiving peer.
type NewBlocksResponse struct {
	IsNew bool
}

// GetBlockChunkedRequest asks a peer to stream one block in chunks.
type GetBlockChunkedRequest struct {
	BlockHash clblock.Hash

	// AcceptedCompressionAlgorithms lists the algorithms the requester
	// can decompress. The responder picks one of them, or none.
	AcceptedCompressionAlgorithms []string
}

// GetBlockSummariesRequest asks a peer for the summaries
// of the named blocks, so the requester can schedule downloads
// in dependency order.
type GetBlockSummariesRequest struct {
	BlockHashes []clblock.Hash
}

// GossipService is the RPC surface one peer serves to another.
// A GossipService obtained from [Connector.Connect] must be closed
// after use.
type GossipService interface {
	NewBlocks(ctx context.Context, req NewBlocksRequest) (NewBlocksResponse, error)

	GetBlockChunked(ctx context.Context, req GetBlockChunkedRequest) (ChunkStream, error)

	GetBlockSummaries(ctx context.Context, req GetBlockSummariesRequest) ([]clblock.Summary, error)

	Close() error
}

// Connector opens a GossipService session to a peer.
// Sessions are opened per use; there is no pooling at this layer.
type Connector interface {
	Connect(ctx context.Context, peer Node) (GossipService, error)
}

// Discovery supplies the current peer set for relay rounds.
type Discovery interface {
	// RecentlyAlivePeersAscendingDistance returns a snapshot of peers
	// believed alive, ordered by ascending distance from the local node.
	RecentlyAlivePeersAscendingDistance(ctx context.Context) ([]Node, error)
}
