package cllibp2p_test

import (
	"context"
	"testing"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcodec/cljson"
	"github.com/stakewithus/CasperLabs/clcompress"
	"github.com/stakewithus/CasperLabs/clgossip"
	"github.com/stakewithus/CasperLabs/clgossip/clgossiptest"
	"github.com/stakewithus/CasperLabs/clp2p"
	"github.com/stakewithus/CasperLabs/clp2p/cllibp2p"
)

func newHost(t *testing.T) host.Host {
	t.Helper()

	h, err := libp2p.New(
		libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Close()
	})
	return h
}

func TestConnector_endToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := slogt.New(t)
	codec := cljson.Codec{}

	client := newHost(t)
	server := newHost(t)

	// Make the server dialable by peer ID alone.
	client.Peerstore().AddAddrs(server.ID(), server.Addrs(), peerstore.PermanentAddrTTL)

	stored := clgossiptest.MakeBlock([]byte("a stored block with some weight to it"))
	backend := clgossiptest.NewFakeBackend()
	backend.Put(stored)

	svc := clgossip.NewServer(log.With("sys", "gossipserver"), clgossip.ServerConfig{
		Store:     backend,
		Codec:     codec,
		ChunkSize: 16,
	})

	lst := cllibp2p.NewListener(ctx, log.With("sys", "listener"), server, svc)
	defer lst.Close()

	conn := cllibp2p.NewConnector(client)
	serverNode := clp2p.Node{ID: server.ID().String()}

	remote, err := conn.Connect(ctx, serverNode)
	require.NoError(t, err)
	defer remote.Close()

	t.Run("NewBlocks", func(t *testing.T) {
		resp, err := remote.NewBlocks(ctx, clp2p.NewBlocksRequest{
			Sender:      clp2p.Node{ID: client.ID().String()},
			BlockHashes: []clblock.Hash{stored.Summary.BlockHash},
		})
		require.NoError(t, err)
		require.False(t, resp.IsNew)

		resp, err = remote.NewBlocks(ctx, clp2p.NewBlocksRequest{
			Sender:      clp2p.Node{ID: client.ID().String()},
			BlockHashes: []clblock.Hash{clblock.HashBody([]byte("nobody has this"))},
		})
		require.NoError(t, err)
		require.True(t, resp.IsNew)
	})

	t.Run("GetBlockSummaries", func(t *testing.T) {
		summaries, err := remote.GetBlockSummaries(ctx, clp2p.GetBlockSummariesRequest{
			BlockHashes: []clblock.Hash{stored.Summary.BlockHash},
		})
		require.NoError(t, err)
		require.Equal(t, []clblock.Summary{stored.Summary}, summaries)
	})

	t.Run("GetBlockChunked round trip", func(t *testing.T) {
		stream, err := remote.GetBlockChunked(ctx, clp2p.GetBlockChunkedRequest{
			BlockHash:                     stored.Summary.BlockHash,
			AcceptedCompressionAlgorithms: clcompress.AcceptedAlgorithms(),
		})
		require.NoError(t, err)

		payload, err := clgossip.AssembleChunks(serverNode, stream)
		require.NoError(t, err)

		content, err := clcompress.Decompress(
			payload.Header.CompressionAlgorithm,
			payload.Content,
			payload.Header.OriginalContentLength,
		)
		require.NoError(t, err)

		got, err := codec.UnmarshalBlock(content)
		require.NoError(t, err)
		require.Equal(t, stored, got)
	})

	t.Run("GetBlockChunked for unknown block fails", func(t *testing.T) {
		stream, err := remote.GetBlockChunked(ctx, clp2p.GetBlockChunkedRequest{
			BlockHash: clblock.HashBody([]byte("unknown")),
		})
		require.NoError(t, err)

		// The failure arrives as the first frame of the stream.
		_, err = stream.Recv()
		require.Error(t, err)
	})
}

func TestConnector_invalidPeerID(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := cllibp2p.NewConnector(newHost(t))

	_, err := conn.Connect(ctx, clp2p.Node{ID: "not a peer id"})
	require.Error(t, err)
}
