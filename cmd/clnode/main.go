// Command clnode runs the CasperLabs gossip node:
// a libp2p host serving the gossip protocol,
// a badger-backed block store,
// and the download/relay core wired between them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	petname "github.com/dustinkirkland/golang-petname"
	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/spf13/cobra"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcodec/cljson"
	"github.com/stakewithus/CasperLabs/clconfig"
	"github.com/stakewithus/CasperLabs/clgossip"
	"github.com/stakewithus/CasperLabs/clhttp"
	"github.com/stakewithus/CasperLabs/clp2p"
	"github.com/stakewithus/CasperLabs/clp2p/cllibp2p"
	"github.com/stakewithus/CasperLabs/clstore"
	"github.com/stakewithus/CasperLabs/clstore/clbadgerstore"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clnode",
		Short: "CasperLabs gossip node",

		SilenceUsage: true,
	}

	cmd.AddCommand(runCmd())
	return cmd
}

func runCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gossip node until interrupted",

		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(logLevel)
			if err != nil {
				return err
			}

			cfg := clconfig.DefaultConfig()
			if configPath != "" {
				cfg, err = clconfig.Load(configPath)
				if err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return runNode(ctx, log, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func runNode(ctx context.Context, log *slog.Logger, cfg clconfig.Config) error {
	codec := cljson.Codec{}

	store, err := clbadgerstore.New(clbadgerstore.Config{DataDir: cfg.Node.DataDir}, codec)
	if err != nil {
		return fmt.Errorf("opening block store: %w", err)
	}
	defer store.Close()

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(cfg.Node.ListenAddr),
	)
	if err != nil {
		return fmt.Errorf("building libp2p host: %w", err)
	}
	defer h.Close()

	d, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		return fmt.Errorf("building DHT: %w", err)
	}
	defer d.Close()

	name := cfg.Node.Name
	if name == "" {
		name = petname.Generate(2, "-")
	}
	self := clp2p.Node{ID: h.ID().String(), Name: name}
	log.Info("Node identity established", "id", self.ID, "name", self.Name)

	connector := cllibp2p.NewConnector(h)
	discovery := cllibp2p.NewKadDiscovery(h, d, 0)
	metrics := clgossip.PrometheusMetrics("casperlabs")

	relayer, err := clgossip.NewRelayer(
		log.With("sys", "relay"),
		self,
		discovery,
		connector,
		cfg.GossipRelayConfig(),
		metrics,
	)
	if err != nil {
		return err
	}

	mgr, err := clgossip.NewDownloadManager(ctx, log.With("sys", "downloads"), clgossip.DownloadManagerConfig{
		Backend:              &nodeBackend{store: store},
		Connector:            connector,
		Codec:                codec,
		Relayer:              relayer,
		MaxParallelDownloads: cfg.Download.MaxParallelDownloads,
		Retry:                cfg.GossipRetryConfig(),
		Metrics:              metrics,
	})
	if err != nil {
		return err
	}
	defer mgr.Wait()

	gossipServer := clgossip.NewServer(log.With("sys", "gossipserver"), clgossip.ServerConfig{
		Store:     store,
		Codec:     codec,
		Manager:   mgr,
		Connector: connector,
		ChunkSize: cfg.Download.ChunkSize,
	})

	listener := cllibp2p.NewListener(ctx, log.With("sys", "listener"), h, gossipServer)
	defer listener.Close()

	if cfg.Node.MetricsListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.Node.MetricsListenAddr)
		if err != nil {
			return fmt.Errorf("listening on metrics address: %w", err)
		}

		httpServer := clhttp.NewServer(ctx, log.With("sys", "http"), clhttp.ServerConfig{
			Listener:  ln,
			Downloads: mgr,
		})
		defer httpServer.Wait()

		log.Info("Serving metrics", "addr", ln.Addr())
	}

	log.Info("Node running", "listen", cfg.Node.ListenAddr)
	<-ctx.Done()
	log.Info("Shutting down")

	return nil
}

// nodeBackend adapts the block store into the download manager's
// backend, adding structural validation of fetched blocks.
type nodeBackend struct {
	store clstore.BlockStore
}

func (b *nodeBackend) HasBlock(ctx context.Context, hash clblock.Hash) (bool, error) {
	return b.store.HasBlock(ctx, hash)
}

func (b *nodeBackend) ValidateBlock(_ context.Context, block clblock.Block) error {
	return block.CheckHash()
}

func (b *nodeBackend) StoreBlock(ctx context.Context, block clblock.Block) error {
	return b.store.PutBlock(ctx, block)
}

func (b *nodeBackend) StoreBlockSummary(ctx context.Context, summary clblock.Summary) error {
	return b.store.PutBlockSummary(ctx, summary)
}
