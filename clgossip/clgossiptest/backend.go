// Package clgossiptest provides in-memory fakes for exercising the
// gossip core without a real store or network.
package clgossiptest

import (
	"context"
	"sync"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clstore"
)

// FakeBackend is an in-memory backend recording the order of store
// operations, with scriptable validation and storage failures.
// It satisfies the download manager's Backend interface and the
// gossip server's read-side store interface.
type FakeBackend struct {
	mu sync.Mutex

	blocks    map[string]clblock.Block
	summaries map[string]clblock.Summary

	// ops records "validate:", "block:" and "summary:" entries,
	// each suffixed with the block's short hash string.
	ops []string

	// ValidateBlockErr, if set, is consulted per block;
	// a non-nil return fails validation.
	ValidateBlockErr func(clblock.Block) error

	// StoreBlockErr, if set, can fail block storage.
	StoreBlockErr func(clblock.Block) error
}

// NewFakeBackend returns an empty backend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		blocks:    make(map[string]clblock.Block),
		summaries: make(map[string]clblock.Summary),
	}
}

func (b *FakeBackend) HasBlock(_ context.Context, hash clblock.Hash) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.blocks[hash.Key()]
	return ok, nil
}

func (b *FakeBackend) ValidateBlock(_ context.Context, block clblock.Block) error {
	b.mu.Lock()
	b.ops = append(b.ops, "validate:"+block.Summary.BlockHash.String())
	fn := b.ValidateBlockErr
	b.mu.Unlock()

	if fn != nil {
		return fn(block)
	}
	return nil
}

func (b *FakeBackend) StoreBlock(_ context.Context, block clblock.Block) error {
	b.mu.Lock()
	fn := b.StoreBlockErr
	b.mu.Unlock()

	if fn != nil {
		if err := fn(block); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocks[block.Summary.BlockHash.Key()] = block
	b.ops = append(b.ops, "block:"+block.Summary.BlockHash.String())
	return nil
}

func (b *FakeBackend) StoreBlockSummary(_ context.Context, summary clblock.Summary) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.summaries[summary.BlockHash.Key()] = summary
	b.ops = append(b.ops, "summary:"+summary.BlockHash.String())
	return nil
}

func (b *FakeBackend) GetBlock(_ context.Context, hash clblock.Hash) (clblock.Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	block, ok := b.blocks[hash.Key()]
	if !ok {
		return clblock.Block{}, clstore.ErrBlockNotFound
	}
	return block, nil
}

func (b *FakeBackend) GetBlockSummary(_ context.Context, hash clblock.Hash) (clblock.Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	summary, ok := b.summaries[hash.Key()]
	if !ok {
		return clblock.Summary{}, clstore.ErrBlockNotFound
	}
	return summary, nil
}

// Put seeds a block and its summary directly, bypassing ops recording.
func (b *FakeBackend) Put(block clblock.Block) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blocks[block.Summary.BlockHash.Key()] = block
	b.summaries[block.Summary.BlockHash.Key()] = block.Summary
}

// Ops returns a copy of the recorded operation order.
func (b *FakeBackend) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.ops...)
}
