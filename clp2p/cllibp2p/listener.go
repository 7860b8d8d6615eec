package cllibp2p

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"

	"github.com/stakewithus/CasperLabs/clp2p"
)

// Listener serves a [clp2p.GossipService] to remote peers
// over the host's [ProtocolID] streams.
type Listener struct {
	log *slog.Logger
	h   host.Host
	svc clp2p.GossipService

	// ctx bounds the lifetime of served requests; stream handlers
	// have no caller-supplied context.
	ctx context.Context
}

// NewListener installs the stream handler on h and begins serving svc.
// Canceling ctx aborts requests still being served.
func NewListener(ctx context.Context, log *slog.Logger, h host.Host, svc clp2p.GossipService) *Listener {
	l := &Listener{log: log, h: h, svc: svc, ctx: ctx}
	h.SetStreamHandler(ProtocolID, l.handleStream)
	return l
}

// Close removes the stream handler; in-flight streams finish on their
// own.
func (l *Listener) Close() error {
	l.h.RemoveStreamHandler(ProtocolID)
	return nil
}

func (l *Listener) handleStream(stream network.Stream) {
	defer stream.Close()

	ctx := l.ctx

	var req requestEnvelope
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		l.log.Info("Dropping malformed gossip request", "err", err)
		stream.Reset()
		return
	}

	enc := json.NewEncoder(stream)

	switch req.Method {
	case methodNewBlocks:
		resp, err := l.svc.NewBlocks(ctx, clp2p.NewBlocksRequest{
			Sender:      req.Sender.toNode(),
			BlockHashes: req.hashes(),
		})
		if err != nil {
			l.reply(enc, responseEnvelope{Err: err.Error()})
			return
		}
		isNew := resp.IsNew
		l.reply(enc, responseEnvelope{IsNew: &isNew})

	case methodGetBlockSummaries:
		summaries, err := l.svc.GetBlockSummaries(ctx, clp2p.GetBlockSummariesRequest{
			BlockHashes: req.hashes(),
		})
		if err != nil {
			l.reply(enc, responseEnvelope{Err: err.Error()})
			return
		}
		wire := make([]wireSummary, len(summaries))
		for i, s := range summaries {
			wire[i] = toWireSummary(s)
		}
		l.reply(enc, responseEnvelope{Summaries: wire})

	case methodGetBlockChunked:
		hashes := req.hashes()
		if len(hashes) != 1 {
			l.reply(enc, responseEnvelope{Err: "GetBlockChunked requires exactly one hash"})
			return
		}

		chunks, err := l.svc.GetBlockChunked(ctx, clp2p.GetBlockChunkedRequest{
			BlockHash:                     hashes[0],
			AcceptedCompressionAlgorithms: req.AcceptedCompressionAlgorithms,
		})
		if err != nil {
			l.reply(enc, responseEnvelope{Err: err.Error()})
			return
		}
		l.serveChunks(enc, chunks)

	default:
		l.reply(enc, responseEnvelope{Err: "unknown method: " + req.Method})
	}
}

func (l *Listener) serveChunks(enc *json.Encoder, chunks clp2p.ChunkStream) {
	for {
		chunk, err := chunks.Recv()
		if errors.Is(err, io.EOF) {
			l.reply(enc, responseEnvelope{End: true})
			return
		}
		if err != nil {
			l.reply(enc, responseEnvelope{Err: err.Error()})
			return
		}

		if !l.reply(enc, responseEnvelope{Chunk: &chunk}) {
			return
		}
	}
}

func (l *Listener) reply(enc *json.Encoder, resp responseEnvelope) bool {
	if err := enc.Encode(resp); err != nil {
		l.log.Info("Could not write gossip response", "err", err)
		return false
	}
	return true
}
