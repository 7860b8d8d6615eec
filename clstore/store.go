// Package clstore defines persistent block storage
// as consumed by the gossip core and the node.
package clstore

import (
	"context"
	"errors"

	"github.com/stakewithus/CasperLabs/clblock"
)

// ErrBlockNotFound is returned by Get methods
// when the requested block is not stored.
var ErrBlockNotFound = errors.New("block not found")

// BlockStore persists blocks and their summaries.
// Implementations must be safe for concurrent use.
type BlockStore interface {
	HasBlock(ctx context.Context, hash clblock.Hash) (bool, error)

	GetBlock(ctx context.Context, hash clblock.Hash) (clblock.Block, error)
	GetBlockSummary(ctx context.Context, hash clblock.Hash) (clblock.Summary, error)

	PutBlock(ctx context.Context, block clblock.Block) error
	PutBlockSummary(ctx context.Context, summary clblock.Summary) error

	Close() error
}
