// Package clbadgerstore implements [clstore.BlockStore] on BadgerDB.
package clbadgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcodec"
	"github.com/stakewithus/CasperLabs/clstore"
)

var (
	blockPrefix   = []byte("b/")
	summaryPrefix = []byte("s/")
)

// Config holds store configuration.
type Config struct {
	// DataDir is the directory backing the database.
	DataDir string

	// SummaryCacheSize bounds the in-memory summary read cache.
	// Zero means DefaultSummaryCacheSize.
	SummaryCacheSize int
}

// DefaultSummaryCacheSize is the summary cache bound when
// Config.SummaryCacheSize is zero.
const DefaultSummaryCacheSize = 4096

// Store is a BadgerDB-backed block store with an LRU cache in front
// of summary reads. Summaries are cached when written or first read;
// blocks and presence checks always go to the database.
type Store struct {
	db    *badger.DB
	codec clcodec.BlockCodec

	summaries *lru.Cache[string, clblock.Summary]
}

// New opens (or creates) the store under cfg.DataDir.
func New(cfg Config, codec clcodec.BlockCodec) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}

	cacheSize := cfg.SummaryCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultSummaryCacheSize
	}
	cache, err := lru.New[string, clblock.Summary](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("building summary cache: %w", err)
	}

	opts := badger.DefaultOptions(cfg.DataDir)
	opts = opts.WithLogger(nil) // Badger's own logging is too chatty.

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}

	return &Store{db: db, codec: codec, summaries: cache}, nil
}

func blockKey(hash clblock.Hash) []byte {
	return append(append([]byte{}, blockPrefix...), hash...)
}

func summaryKey(hash clblock.Hash) []byte {
	return append(append([]byte{}, summaryPrefix...), hash...)
}

func (s *Store) HasBlock(_ context.Context, hash clblock.Hash) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(hash))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking presence of block %v: %w", hash, err)
	}
	return true, nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, clstore.ErrBlockNotFound
	}
	return value, err
}

func (s *Store) GetBlock(_ context.Context, hash clblock.Hash) (clblock.Block, error) {
	data, err := s.get(blockKey(hash))
	if err != nil {
		return clblock.Block{}, err
	}
	return s.codec.UnmarshalBlock(data)
}

func (s *Store) GetBlockSummary(_ context.Context, hash clblock.Hash) (clblock.Summary, error) {
	if summary, ok := s.summaries.Get(hash.Key()); ok {
		return summary, nil
	}

	data, err := s.get(summaryKey(hash))
	if err != nil {
		return clblock.Summary{}, err
	}

	summary, err := s.codec.UnmarshalSummary(data)
	if err != nil {
		return clblock.Summary{}, err
	}
	s.summaries.Add(hash.Key(), summary)
	return summary, nil
}

func (s *Store) PutBlock(_ context.Context, block clblock.Block) error {
	data, err := s.codec.MarshalBlock(block)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(block.Summary.BlockHash), data)
	})
	if err != nil {
		return fmt.Errorf("storing block %v: %w", block.Summary.BlockHash, err)
	}
	return nil
}

func (s *Store) PutBlockSummary(_ context.Context, summary clblock.Summary) error {
	data, err := s.codec.MarshalSummary(summary)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(summaryKey(summary.BlockHash), data)
	})
	if err != nil {
		return fmt.Errorf("storing summary %v: %w", summary.BlockHash, err)
	}

	s.summaries.Add(summary.BlockHash.Key(), summary)
	return nil
}

// RunGC reclaims value log space; call periodically.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
