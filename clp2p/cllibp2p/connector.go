package cllibp2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clp2p"
)

// Connector implements [clp2p.Connector] over a libp2p host.
// Peer addresses must already be known to the host's peerstore,
// via the DHT or static configuration.
type Connector struct {
	h host.Host
}

// NewConnector returns a Connector dialing through h.
func NewConnector(h host.Host) *Connector {
	return &Connector{h: h}
}

func (c *Connector) Connect(ctx context.Context, node clp2p.Node) (clp2p.GossipService, error) {
	pid, err := peer.Decode(node.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid peer ID %q: %w", node.ID, err)
	}

	return &remoteService{h: c.h, pid: pid, node: node}, nil
}

// remoteService is one logical session against a remote peer.
// Each RPC opens its own stream.
type remoteService struct {
	h    host.Host
	pid  peer.ID
	node clp2p.Node
}

// roundTrip opens a stream, sends the request envelope,
// and hands back the open stream with a decoder positioned
// at the first response envelope.
func (s *remoteService) roundTrip(ctx context.Context, req requestEnvelope) (network.Stream, *json.Decoder, error) {
	stream, err := s.h.NewStream(ctx, s.pid, ProtocolID)
	if err != nil {
		return nil, nil, fmt.Errorf("opening stream to %v: %w", s.node, err)
	}

	if err := json.NewEncoder(stream).Encode(req); err != nil {
		stream.Reset()
		return nil, nil, fmt.Errorf("sending %s request to %v: %w", req.Method, s.node, err)
	}
	if err := stream.CloseWrite(); err != nil {
		stream.Reset()
		return nil, nil, fmt.Errorf("closing write side to %v: %w", s.node, err)
	}

	return stream, json.NewDecoder(stream), nil
}

func (s *remoteService) NewBlocks(
	ctx context.Context, req clp2p.NewBlocksRequest,
) (clp2p.NewBlocksResponse, error) {
	stream, dec, err := s.roundTrip(ctx, requestEnvelope{
		Method:      methodNewBlocks,
		Sender:      toWireNode(req.Sender),
		BlockHashes: wireHashes(req.BlockHashes),
	})
	if err != nil {
		return clp2p.NewBlocksResponse{}, err
	}
	defer stream.Close()

	var resp responseEnvelope
	if err := dec.Decode(&resp); err != nil {
		return clp2p.NewBlocksResponse{}, fmt.Errorf("reading NewBlocks response from %v: %w", s.node, err)
	}
	if resp.Err != "" {
		return clp2p.NewBlocksResponse{}, fmt.Errorf("NewBlocks rejected by %v: %s", s.node, resp.Err)
	}
	if resp.IsNew == nil {
		return clp2p.NewBlocksResponse{}, fmt.Errorf("malformed NewBlocks response from %v", s.node)
	}

	return clp2p.NewBlocksResponse{IsNew: *resp.IsNew}, nil
}

func (s *remoteService) GetBlockSummaries(
	ctx context.Context, req clp2p.GetBlockSummariesRequest,
) ([]clblock.Summary, error) {
	stream, dec, err := s.roundTrip(ctx, requestEnvelope{
		Method:      methodGetBlockSummaries,
		BlockHashes: wireHashes(req.BlockHashes),
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var resp responseEnvelope
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("reading GetBlockSummaries response from %v: %w", s.node, err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("GetBlockSummaries rejected by %v: %s", s.node, resp.Err)
	}

	summaries := make([]clblock.Summary, len(resp.Summaries))
	for i, ws := range resp.Summaries {
		summaries[i] = ws.toSummary()
	}
	return summaries, nil
}

func (s *remoteService) GetBlockChunked(
	ctx context.Context, req clp2p.GetBlockChunkedRequest,
) (clp2p.ChunkStream, error) {
	stream, dec, err := s.roundTrip(ctx, requestEnvelope{
		Method:                        methodGetBlockChunked,
		BlockHashes:                   wireHashes([]clblock.Hash{req.BlockHash}),
		AcceptedCompressionAlgorithms: req.AcceptedCompressionAlgorithms,
	})
	if err != nil {
		return nil, err
	}

	return &streamChunkReader{node: s.node, stream: stream, dec: dec}, nil
}

// Close implements [clp2p.GossipService]. Streams are per-RPC,
// so there is nothing session-wide to tear down.
func (s *remoteService) Close() error {
	return nil
}

// streamChunkReader adapts a response stream to [clp2p.ChunkStream].
type streamChunkReader struct {
	node   clp2p.Node
	stream network.Stream
	dec    *json.Decoder

	done bool
}

func (r *streamChunkReader) Recv() (clp2p.Chunk, error) {
	if r.done {
		return clp2p.Chunk{}, io.EOF
	}

	var resp responseEnvelope
	if err := r.dec.Decode(&resp); err != nil {
		r.finish()
		if errors.Is(err, io.EOF) {
			// The peer hung up without an end frame.
			return clp2p.Chunk{}, fmt.Errorf("chunk stream from %v ended prematurely", r.node)
		}
		return clp2p.Chunk{}, fmt.Errorf("reading chunk from %v: %w", r.node, err)
	}

	if resp.Err != "" {
		r.finish()
		return clp2p.Chunk{}, fmt.Errorf("chunk stream from %v failed: %s", r.node, resp.Err)
	}
	if resp.End {
		r.finish()
		return clp2p.Chunk{}, io.EOF
	}
	if resp.Chunk == nil {
		r.finish()
		return clp2p.Chunk{}, fmt.Errorf("malformed chunk frame from %v", r.node)
	}

	return *resp.Chunk, nil
}

func (r *streamChunkReader) finish() {
	if !r.done {
		r.done = true
		r.stream.Close()
	}
}
