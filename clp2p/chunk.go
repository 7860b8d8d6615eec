package clp2p

import "io"

// ChunkHeader is the first frame of a chunked block transfer.
type ChunkHeader struct {
	// CompressionAlgorithm is "" for uncompressed content or "lz4".
	CompressionAlgorithm string `json:"compression_algorithm,omitempty"`

	// ContentLength is the total number of data bytes transferred,
	// i.e. the sum of all Data frame lengths.
	ContentLength uint32 `json:"content_length"`

	// OriginalContentLength is the content size after decompression.
	OriginalContentLength uint32 `json:"original_content_length"`
}

// Chunk is one frame of a chunked block transfer:
// either a header or a run of data bytes, never both.
type Chunk struct {
	Header *ChunkHeader `json:"header,omitempty"`
	Data   []byte       `json:"data,omitempty"`
}

// IsHeader reports whether the chunk is a header frame.
func (c Chunk) IsHeader() bool {
	return c.Header != nil
}

// HeaderChunk builds a header frame.
func HeaderChunk(h ChunkHeader) Chunk {
	return Chunk{Header: &h}
}

// DataChunk builds a data frame.
func DataChunk(data []byte) Chunk {
	return Chunk{Data: data}
}

// ChunkStream is a lazily consumed sequence of chunk frames.
// Recv returns [io.EOF] when the stream ends cleanly.
type ChunkStream interface {
	Recv() (Chunk, error)
}

// SliceChunkStream serves a fixed sequence of chunks,
// then an optional terminal error (io.EOF when Err is nil).
// It is used by the gossip server's serve path and by tests.
type SliceChunkStream struct {
	chunks []Chunk
	err    error
}

// NewSliceChunkStream returns a stream yielding the given chunks
// then io.EOF.
func NewSliceChunkStream(chunks ...Chunk) *SliceChunkStream {
	return &SliceChunkStream{chunks: chunks}
}

// NewFailingChunkStream returns a stream yielding the given chunks
// then err instead of a clean end.
func NewFailingChunkStream(err error, chunks ...Chunk) *SliceChunkStream {
	return &SliceChunkStream{chunks: chunks, err: err}
}

func (s *SliceChunkStream) Recv() (Chunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}

	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}
