// Package clhttp serves the node's metrics and debug HTTP endpoints.
package clhttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stakewithus/CasperLabs/clgossip"
)

// Server exposes /metrics, /healthz and /debug/downloads.
type Server struct {
	done chan struct{}
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Listener net.Listener

	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	// Downloads serves /debug/downloads; nil disables the route.
	Downloads *clgossip.DownloadManager
}

// NewServer starts serving immediately.
// Canceling ctx shuts the server down.
func NewServer(ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s := &Server{
		done: make(chan struct{}),
	}
	go s.serve(log, cfg.Listener, srv)
	go s.waitForShutdown(ctx, srv)

	return s
}

// Wait blocks until the server has stopped serving.
func (s *Server) Wait() {
	<-s.done
}

func (s *Server) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-s.done:
		// serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (s *Server) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(s.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg ServerConfig) http.Handler {
	r := mux.NewRouter()

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods("GET")

	if cfg.Downloads != nil {
		r.HandleFunc("/debug/downloads", handleDownloads(log, cfg.Downloads)).Methods("GET")
	}

	return r
}

func handleDownloads(log *slog.Logger, mgr *clgossip.DownloadManager) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		status, err := mgr.Status(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Warn("Failed to write download status", "err", err)
		}
	}
}
