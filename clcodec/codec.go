// Package clcodec defines the serialization contract for blocks
// and block summaries as they cross process boundaries:
// the gossip wire, and the on-disk block store.
package clcodec

import "github.com/stakewithus/CasperLabs/clblock"

// BlockCodec marshals blocks and summaries to and from bytes.
//
// Implementations must round-trip: unmarshaling marshaled output
// yields a value equal to the input.
type BlockCodec interface {
	MarshalBlock(clblock.Block) ([]byte, error)
	UnmarshalBlock([]byte) (clblock.Block, error)

	MarshalSummary(clblock.Summary) ([]byte, error)
	UnmarshalSummary([]byte) (clblock.Summary, error)
}
