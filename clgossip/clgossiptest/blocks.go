package clgossiptest

import (
	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcodec"
	"github.com/stakewithus/CasperLabs/clcompress"
	"github.com/stakewithus/CasperLabs/clp2p"
	"github.com/stakewithus/CasperLabs/clstore"
)

// MakeBlock builds a block whose hash is derived from its body,
// depending on the given parents.
func MakeBlock(body []byte, parents ...clblock.Summary) clblock.Block {
	var parentHashes []clblock.Hash
	for _, p := range parents {
		parentHashes = append(parentHashes, p.BlockHash)
	}

	return clblock.Block{
		Summary: clblock.Summary{
			BlockHash:    clblock.HashBody(body),
			ParentHashes: parentHashes,
		},
		Body: body,
	}
}

// ChunksForBlock encodes a block as a well-formed chunk sequence:
// one header and data frames of at most chunkSize bytes,
// lz4-compressed when compress is set and the payload shrinks.
func ChunksForBlock(
	codec clcodec.BlockCodec, block clblock.Block, chunkSize int, compress bool,
) []clp2p.Chunk {
	content, err := codec.MarshalBlock(block)
	if err != nil {
		panic(err)
	}

	header := clp2p.ChunkHeader{
		ContentLength:         uint32(len(content)),
		OriginalContentLength: uint32(len(content)),
	}
	if compress {
		if compressed, ok := clcompress.CompressLZ4(content); ok {
			header.CompressionAlgorithm = clcompress.AlgorithmLZ4
			header.ContentLength = uint32(len(compressed))
			content = compressed
		}
	}

	chunks := []clp2p.Chunk{clp2p.HeaderChunk(header)}
	for off := 0; off < len(content); off += chunkSize {
		end := min(off+chunkSize, len(content))
		chunks = append(chunks, clp2p.DataChunk(content[off:end]))
	}
	return chunks
}

// ServeBlock scripts a peer handler that always serves the given
// block as a plain, uncompressed chunk stream.
func ServeBlock(codec clcodec.BlockCodec, block clblock.Block) func(clp2p.GetBlockChunkedRequest) (clp2p.ChunkStream, error) {
	return func(clp2p.GetBlockChunkedRequest) (clp2p.ChunkStream, error) {
		return clp2p.NewSliceChunkStream(ChunksForBlock(codec, block, 1024, false)...), nil
	}
}

// ServeBlocks scripts a peer handler serving any of the given blocks
// by hash, uncompressed.
func ServeBlocks(codec clcodec.BlockCodec, blocks ...clblock.Block) func(clp2p.GetBlockChunkedRequest) (clp2p.ChunkStream, error) {
	byHash := make(map[string]clblock.Block, len(blocks))
	for _, b := range blocks {
		byHash[b.Summary.BlockHash.Key()] = b
	}

	return func(req clp2p.GetBlockChunkedRequest) (clp2p.ChunkStream, error) {
		b, ok := byHash[req.BlockHash.Key()]
		if !ok {
			return nil, clstore.ErrBlockNotFound
		}
		return clp2p.NewSliceChunkStream(ChunksForBlock(codec, b, 1024, false)...), nil
	}
}
