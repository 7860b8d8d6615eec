// Package clcompress implements the compression codec for chunked
// block transfer. The wire supports two algorithms: the empty string
// (no compression) and "lz4" (lz4 block format).
package clcompress

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// AlgorithmLZ4 is the only non-identity algorithm the node accepts.
const AlgorithmLZ4 = "lz4"

// AcceptedAlgorithms returns the compression algorithms to advertise
// in a chunked block request.
func AcceptedAlgorithms() []string {
	return []string{AlgorithmLZ4}
}

// Decompress restores the original content from data that was
// compressed with the named algorithm.
//
// The empty algorithm means no compression: data must already be
// exactly originalLen bytes. For lz4, the decompressed output must be
// exactly originalLen bytes; shorter or longer output is an error,
// as it means the header lied about the original content length.
func Decompress(algorithm string, data []byte, originalLen uint32) ([]byte, error) {
	switch algorithm {
	case "":
		if uint32(len(data)) != originalLen {
			return nil, fmt.Errorf(
				"uncompressed content is %d bytes, header promised %d",
				len(data), originalLen,
			)
		}
		return data, nil

	case AlgorithmLZ4:
		out := make([]byte, originalLen)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		if uint32(n) != originalLen {
			return nil, fmt.Errorf(
				"lz4 decompressed to %d bytes, header promised %d",
				n, originalLen,
			)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unexpected algorithm: %s", algorithm)
	}
}

// CompressLZ4 compresses data with the lz4 block format.
// The second return value is false when the payload is incompressible
// (lz4 block format cannot shrink it); callers should then serve the
// content uncompressed with the empty algorithm.
func CompressLZ4(data []byte) ([]byte, bool) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))

	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf)
	if err != nil || n == 0 || n >= len(data) {
		return nil, false
	}
	return buf[:n], true
}
