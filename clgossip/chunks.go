package clgossip

import (
	"errors"
	"fmt"
	"io"

	"github.com/stakewithus/CasperLabs/clp2p"
)

// ChunkedPayload is the result of folding a chunk stream:
// the validated header and the concatenated data bytes,
// still compressed if the header says so.
type ChunkedPayload struct {
	Header  clp2p.ChunkHeader
	Content []byte
}

// AssembleChunks folds a chunk stream into a length-policed payload.
//
// The stream must open with exactly one header frame whose compression
// algorithm is "" or "lz4", followed by non-empty data frames whose
// total length does not exceed the header's ContentLength. The first
// violation aborts the fold with an [*InvalidChunksError] naming the
// source peer; errors from the stream itself are returned wrapped
// (with the source peer named), not as an [*InvalidChunksError].
func AssembleChunks(source clp2p.Node, stream clp2p.ChunkStream) (ChunkedPayload, error) {
	invalid := func(reason string) (ChunkedPayload, error) {
		return ChunkedPayload{}, &InvalidChunksError{Reason: reason, Source: source}
	}

	var header *clp2p.ChunkHeader
	var content []byte
	var received uint32

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ChunkedPayload{}, fmt.Errorf("receiving chunk from %v: %w", source, err)
		}

		if chunk.IsHeader() {
			if header != nil {
				return invalid("second header")
			}

			switch algo := chunk.Header.CompressionAlgorithm; algo {
			case "", "lz4":
				// Accepted.
			default:
				return invalid("unexpected algorithm: " + algo)
			}

			h := *chunk.Header
			header = &h
			content = make([]byte, 0, h.ContentLength)
			continue
		}

		if header == nil {
			return invalid("did not start with a header")
		}
		if len(chunk.Data) == 0 {
			return invalid("empty data frame")
		}

		received += uint32(len(chunk.Data))
		if received > header.ContentLength {
			return invalid("exceeding promised content length")
		}

		content = append(content, chunk.Data...)
	}

	if header == nil {
		return invalid("did not receive a header")
	}
	if received == 0 && header.ContentLength > 0 {
		return invalid("did not receive any data")
	}

	return ChunkedPayload{Header: *header, Content: content}, nil
}
