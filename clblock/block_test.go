package clblock_test

import (
	"testing"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stretchr/testify/require"
)

func TestSummary_Dependencies(t *testing.T) {
	t.Parallel()

	a := clblock.HashBody([]byte("a"))
	b := clblock.HashBody([]byte("b"))
	c := clblock.HashBody([]byte("c"))

	t.Run("union of parents and justifications", func(t *testing.T) {
		t.Parallel()

		s := clblock.Summary{
			BlockHash:           clblock.HashBody([]byte("x")),
			ParentHashes:        []clblock.Hash{a, b},
			JustificationHashes: []clblock.Hash{c},
		}

		require.Equal(t, []clblock.Hash{a, b, c}, s.Dependencies())
	})

	t.Run("deduplicates overlapping hashes", func(t *testing.T) {
		t.Parallel()

		s := clblock.Summary{
			BlockHash:           clblock.HashBody([]byte("x")),
			ParentHashes:        []clblock.Hash{a, b},
			JustificationHashes: []clblock.Hash{b, a, c},
		}

		require.Equal(t, []clblock.Hash{a, b, c}, s.Dependencies())
	})

	t.Run("empty for a genesis-like summary", func(t *testing.T) {
		t.Parallel()

		s := clblock.Summary{BlockHash: a}
		require.Empty(t, s.Dependencies())
	})
}

func TestHashBody_deterministic(t *testing.T) {
	t.Parallel()

	h1 := clblock.HashBody([]byte("payload"))
	h2 := clblock.HashBody([]byte("payload"))
	require.True(t, h1.Equal(h2))
	require.Len(t, []byte(h1), 32)

	h3 := clblock.HashBody([]byte("other payload"))
	require.False(t, h1.Equal(h3))
}

func TestBlock_CheckHash(t *testing.T) {
	t.Parallel()

	body := []byte("block body")
	b := clblock.Block{
		Summary: clblock.Summary{BlockHash: clblock.HashBody(body)},
		Body:    body,
	}
	require.NoError(t, b.CheckHash())

	b.Body = []byte("tampered body")
	require.Error(t, b.CheckHash())
}
