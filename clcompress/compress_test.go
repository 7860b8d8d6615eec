package clcompress_test

import (
	"bytes"
	"testing"

	"github.com/stakewithus/CasperLabs/clcompress"
	"github.com/stretchr/testify/require"
)

func TestDecompress_identity(t *testing.T) {
	t.Parallel()

	data := []byte("uncompressed payload")

	out, err := clcompress.Decompress("", data, uint32(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestDecompress_identityLengthMismatch(t *testing.T) {
	t.Parallel()

	data := []byte("payload")

	_, err := clcompress.Decompress("", data, uint32(len(data))+1)
	require.Error(t, err)
}

func TestDecompress_lz4RoundTrip(t *testing.T) {
	t.Parallel()

	// Repetitive content so lz4 actually compresses.
	data := bytes.Repeat([]byte("casperlabs "), 200)

	compressed, ok := clcompress.CompressLZ4(data)
	require.True(t, ok)
	require.Less(t, len(compressed), len(data))

	out, err := clcompress.Decompress(clcompress.AlgorithmLZ4, compressed, uint32(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestDecompress_lz4WrongOriginalLength(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("casperlabs "), 200)
	compressed, ok := clcompress.CompressLZ4(data)
	require.True(t, ok)

	// Shorter than actual: decompression cannot fit the output buffer.
	_, err := clcompress.Decompress(clcompress.AlgorithmLZ4, compressed, uint32(len(data))-1)
	require.Error(t, err)
}

func TestDecompress_unknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := clcompress.Decompress("zstd", []byte("x"), 1)
	require.ErrorContains(t, err, "unexpected algorithm: zstd")
}

func TestCompressLZ4_incompressible(t *testing.T) {
	t.Parallel()

	// Tiny high-entropy input; the lz4 block format cannot shrink it.
	_, ok := clcompress.CompressLZ4([]byte{0x01, 0xfe, 0x42, 0x99})
	require.False(t, ok)
}
