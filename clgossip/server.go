package clgossip

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcodec"
	"github.com/stakewithus/CasperLabs/clcompress"
	"github.com/stakewithus/CasperLabs/clp2p"
	"github.com/stakewithus/CasperLabs/internal/glog"
)

// DefaultChunkSize is the data frame size for served block transfers.
const DefaultChunkSize = 64 * 1024

// blockSource is the subset of block storage the server reads,
// kept narrow so the server cannot write.
type blockSource interface {
	HasBlock(ctx context.Context, hash clblock.Hash) (bool, error)
	GetBlock(ctx context.Context, hash clblock.Hash) (clblock.Block, error)
	GetBlockSummary(ctx context.Context, hash clblock.Hash) (clblock.Summary, error)
}

// downloadScheduler is the subset of [DownloadManager]
// the server uses to react to announcements.
type downloadScheduler interface {
	ScheduleDownload(ctx context.Context, summary clblock.Summary, source clp2p.Node, relay bool) (*DownloadHandle, error)
}

// ServerConfig configures a [Server].
type ServerConfig struct {
	Store blockSource
	Codec clcodec.BlockCodec

	// Manager receives downloads for blocks announced by peers.
	// Nil makes NewBlocks purely informational.
	Manager downloadScheduler

	// Connector fetches summaries of announced blocks
	// back from the announcing peer.
	Connector clp2p.Connector

	// ChunkSize bounds served data frames; zero means DefaultChunkSize.
	ChunkSize int
}

// Server is the node's side of the gossip protocol: it answers peers
// announcing blocks and peers fetching blocks the node holds.
type Server struct {
	log *slog.Logger

	store   blockSource
	codec   clcodec.BlockCodec
	manager downloadScheduler
	conn    clp2p.Connector

	chunkSize int
}

// NewServer returns a Server ready to be exposed on a transport
// listener.
func NewServer(log *slog.Logger, cfg ServerConfig) *Server {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Server{
		log:       log,
		store:     cfg.Store,
		codec:     cfg.Codec,
		manager:   cfg.Manager,
		conn:      cfg.Connector,
		chunkSize: chunkSize,
	}
}

// NewBlocks handles a peer's availability announcement.
// IsNew reports whether any announced hash was locally unknown;
// unknown blocks are scheduled for download from the announcing peer
// in the background. Scheduling problems are logged, never surfaced
// to the remote peer.
func (s *Server) NewBlocks(
	ctx context.Context, req clp2p.NewBlocksRequest,
) (clp2p.NewBlocksResponse, error) {
	var unknown []clblock.Hash
	for _, hash := range req.BlockHashes {
		has, err := s.store.HasBlock(ctx, hash)
		if err != nil {
			return clp2p.NewBlocksResponse{}, fmt.Errorf("checking presence of block %v: %w", hash, err)
		}
		if !has {
			unknown = append(unknown, hash)
		}
	}

	if len(unknown) > 0 && s.manager != nil && s.conn != nil {
		go s.downloadAnnounced(ctx, req.Sender, unknown)
	}

	return clp2p.NewBlocksResponse{IsNew: len(unknown) > 0}, nil
}

// downloadAnnounced fetches the summaries of announced blocks from the
// sender and schedules their download, re-gossiping on completion.
//
// Only blocks whose dependencies are already present or scheduled are
// picked up here; deeper ancestor synchronization is the initial-sync
// layer's concern, and announcements for such blocks will recur once
// the ancestors land.
func (s *Server) downloadAnnounced(
	ctx context.Context, sender clp2p.Node, hashes []clblock.Hash,
) {
	svc, err := s.conn.Connect(ctx, sender)
	if err != nil {
		s.log.Warn(
			"Could not connect back to announcing peer",
			"peer", sender,
			"err", err,
		)
		return
	}
	defer svc.Close()

	summaries, err := svc.GetBlockSummaries(ctx, clp2p.GetBlockSummariesRequest{
		BlockHashes: hashes,
	})
	if err != nil {
		s.log.Warn(
			"Could not fetch summaries of announced blocks",
			"peer", sender,
			"err", err,
		)
		return
	}

	for _, summary := range summaries {
		if _, err := s.manager.ScheduleDownload(ctx, summary, sender, true); err != nil {
			s.log.Info(
				"Skipping announced block",
				"block", glog.Hex(summary.BlockHash),
				"peer", sender,
				"err", err,
			)
		}
	}
}

// GetBlockSummaries serves the summaries of the requested blocks,
// silently omitting blocks the node does not hold.
func (s *Server) GetBlockSummaries(
	ctx context.Context, req clp2p.GetBlockSummariesRequest,
) ([]clblock.Summary, error) {
	summaries := make([]clblock.Summary, 0, len(req.BlockHashes))
	for _, hash := range req.BlockHashes {
		has, err := s.store.HasBlock(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("checking presence of block %v: %w", hash, err)
		}
		if !has {
			continue
		}

		summary, err := s.store.GetBlockSummary(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("loading summary of block %v: %w", hash, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetBlockChunked serves one block as a header frame followed by data
// frames, compressed with lz4 when the requester accepts it and the
// payload actually shrinks.
func (s *Server) GetBlockChunked(
	ctx context.Context, req clp2p.GetBlockChunkedRequest,
) (clp2p.ChunkStream, error) {
	block, err := s.store.GetBlock(ctx, req.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("loading block %v: %w", req.BlockHash, err)
	}

	content, err := s.codec.MarshalBlock(block)
	if err != nil {
		return nil, fmt.Errorf("encoding block %v: %w", req.BlockHash, err)
	}

	header := clp2p.ChunkHeader{
		ContentLength:         uint32(len(content)),
		OriginalContentLength: uint32(len(content)),
	}

	if slices.Contains(req.AcceptedCompressionAlgorithms, clcompress.AlgorithmLZ4) {
		if compressed, ok := clcompress.CompressLZ4(content); ok {
			header.CompressionAlgorithm = clcompress.AlgorithmLZ4
			header.ContentLength = uint32(len(compressed))
			content = compressed
		}
	}

	chunks := make([]clp2p.Chunk, 0, 1+(len(content)+s.chunkSize-1)/s.chunkSize)
	chunks = append(chunks, clp2p.HeaderChunk(header))
	for off := 0; off < len(content); off += s.chunkSize {
		end := min(off+s.chunkSize, len(content))
		chunks = append(chunks, clp2p.DataChunk(content[off:end]))
	}

	return clp2p.NewSliceChunkStream(chunks...), nil
}

// Close implements [clp2p.GossipService]; the server holds no
// per-session state.
func (s *Server) Close() error {
	return nil
}
