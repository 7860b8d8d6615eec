package clbadgerstore_test

import (
	"context"
	"testing"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcodec/cljson"
	"github.com/stakewithus/CasperLabs/clstore"
	"github.com/stakewithus/CasperLabs/clstore/clbadgerstore"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *clbadgerstore.Store {
	t.Helper()

	s, err := clbadgerstore.New(clbadgerstore.Config{DataDir: t.TempDir()}, cljson.Codec{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestStore_blockRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := openStore(t)

	body := []byte("block body")
	block := clblock.Block{
		Summary: clblock.Summary{
			BlockHash:    clblock.HashBody(body),
			ParentHashes: []clblock.Hash{clblock.HashBody([]byte("parent"))},
		},
		Body: body,
	}

	has, err := s.HasBlock(ctx, block.Summary.BlockHash)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, s.PutBlock(ctx, block))
	require.NoError(t, s.PutBlockSummary(ctx, block.Summary))

	has, err = s.HasBlock(ctx, block.Summary.BlockHash)
	require.NoError(t, err)
	require.True(t, has)

	got, err := s.GetBlock(ctx, block.Summary.BlockHash)
	require.NoError(t, err)
	require.Equal(t, block, got)

	// Twice, to hit both the uncached and cached read paths.
	for range 2 {
		sum, err := s.GetBlockSummary(ctx, block.Summary.BlockHash)
		require.NoError(t, err)
		require.Equal(t, block.Summary, sum)
	}
}

func TestStore_missingBlock(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := openStore(t)

	missing := clblock.HashBody([]byte("nope"))

	_, err := s.GetBlock(ctx, missing)
	require.ErrorIs(t, err, clstore.ErrBlockNotFound)

	_, err = s.GetBlockSummary(ctx, missing)
	require.ErrorIs(t, err, clstore.ErrBlockNotFound)
}
