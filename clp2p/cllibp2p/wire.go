// Package cllibp2p implements the gossip RPC contract over libp2p
// streams. Each RPC opens one stream on [ProtocolID] and exchanges
// newline-delimited JSON envelopes; chunked block transfers stream
// one envelope per chunk, terminated by an end-of-stream envelope.
package cllibp2p

import (
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clp2p"
)

// ProtocolID is the libp2p protocol for the gossip service.
const ProtocolID = protocol.ID("/casperlabs/gossip/v1")

const (
	methodNewBlocks         = "new_blocks"
	methodGetBlockChunked   = "get_block_chunked"
	methodGetBlockSummaries = "get_block_summaries"
)

type wireNode struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func toWireNode(n clp2p.Node) wireNode {
	return wireNode{ID: n.ID, Name: n.Name}
}

func (n wireNode) toNode() clp2p.Node {
	return clp2p.Node{ID: n.ID, Name: n.Name}
}

// requestEnvelope is the single request frame of an RPC.
// Method selects which payload field is set.
type requestEnvelope struct {
	Method string `json:"method"`

	Sender      wireNode `json:"sender,omitempty"`
	BlockHashes [][]byte `json:"block_hashes,omitempty"`

	AcceptedCompressionAlgorithms []string `json:"accepted_compression_algorithms,omitempty"`
}

func (e requestEnvelope) hashes() []clblock.Hash {
	hashes := make([]clblock.Hash, len(e.BlockHashes))
	for i, h := range e.BlockHashes {
		hashes[i] = clblock.Hash(h)
	}
	return hashes
}

func wireHashes(hashes []clblock.Hash) [][]byte {
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		out[i] = h
	}
	return out
}

// responseEnvelope carries one response frame.
// Err is set on failure; otherwise exactly one payload field is used,
// except for chunk streams where Chunk frames repeat until End.
type responseEnvelope struct {
	Err string `json:"err,omitempty"`

	IsNew *bool `json:"is_new,omitempty"`

	Summaries []wireSummary `json:"summaries,omitempty"`

	Chunk *clp2p.Chunk `json:"chunk,omitempty"`
	End   bool         `json:"end,omitempty"`
}

type wireSummary struct {
	BlockHash           []byte   `json:"block_hash"`
	ParentHashes        [][]byte `json:"parent_hashes,omitempty"`
	JustificationHashes [][]byte `json:"justification_hashes,omitempty"`
}

func toWireSummary(s clblock.Summary) wireSummary {
	return wireSummary{
		BlockHash:           s.BlockHash,
		ParentHashes:        wireHashes(s.ParentHashes),
		JustificationHashes: wireHashes(s.JustificationHashes),
	}
}

func (s wireSummary) toSummary() clblock.Summary {
	out := clblock.Summary{BlockHash: clblock.Hash(s.BlockHash)}
	for _, p := range s.ParentHashes {
		out.ParentHashes = append(out.ParentHashes, clblock.Hash(p))
	}
	for _, j := range s.JustificationHashes {
		out.JustificationHashes = append(out.JustificationHashes, clblock.Hash(j))
	}
	return out
}
