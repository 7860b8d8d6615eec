package clgossip

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcodec"
	"github.com/stakewithus/CasperLabs/clp2p"
)

// Backend is the subset of node functionality the download manager
// consumes: presence checks, validation, and storage.
// Storage order matters to the manager; see the worker in worker.go.
type Backend interface {
	HasBlock(ctx context.Context, hash clblock.Hash) (bool, error)
	ValidateBlock(ctx context.Context, block clblock.Block) error
	StoreBlock(ctx context.Context, block clblock.Block) error
	StoreBlockSummary(ctx context.Context, summary clblock.Summary) error
}

// RetryConfig bounds per-source retry behavior for downloads.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	// against one source. Zero means a single attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffFactor multiplies the delay on each further retry.
	BackoffFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

// delay computes the backoff before retry number attempt (from 0).
// A non-finite product is a fatal configuration error.
func (c RetryConfig) delay(attempt int) (time.Duration, error) {
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return 0, &ConfigurationError{
			Field:  "InitialBackoff/BackoffFactor",
			Reason: "computed retry delay is not finite",
		}
	}
	return time.Duration(d), nil
}

// DownloadManagerConfig holds the dependencies and knobs
// required to start a [DownloadManager].
type DownloadManagerConfig struct {
	Backend   Backend
	Connector clp2p.Connector
	Codec     clcodec.BlockCodec

	// Relayer re-gossips downloaded blocks when a download was
	// scheduled with the relay flag. Nil disables relaying.
	Relayer *Relayer

	// MaxParallelDownloads bounds concurrent chunked fetches.
	MaxParallelDownloads int

	Retry RetryConfig

	// FatalErrors classifies backend and transport errors that must
	// abort retry and failover immediately. Nil classifies nothing
	// as fatal; configuration errors are always fatal.
	FatalErrors func(error) bool

	// Metrics may be nil for [NopMetrics].
	Metrics *Metrics
}

// DownloadManager schedules block downloads in dependency order,
// deduplicates concurrent requests for the same block, retries
// transient failures, and enforces a global fetch parallelism budget.
//
// All state lives in a single kernel goroutine; the exported methods
// communicate with it over channels and are safe for concurrent use.
type DownloadManager struct {
	log *slog.Logger

	k *kernel

	scheduleRequests chan<- scheduleRequest
	statusRequests   chan<- statusRequest
}

// NewDownloadManager validates cfg, starts the kernel,
// and returns the manager. Canceling ctx begins shutdown.
func NewDownloadManager(
	ctx context.Context, log *slog.Logger, cfg DownloadManagerConfig,
) (*DownloadManager, error) {
	if cfg.MaxParallelDownloads < 1 {
		return nil, &ConfigurationError{Field: "MaxParallelDownloads", Reason: "must be at least 1"}
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, &ConfigurationError{Field: "Retry.MaxRetries", Reason: "must not be negative"}
	}
	if cfg.Retry.InitialBackoff < 0 {
		return nil, &ConfigurationError{Field: "Retry.InitialBackoff", Reason: "must not be negative"}
	}
	if cfg.Retry.BackoffFactor < 1.0 {
		return nil, &ConfigurationError{Field: "Retry.BackoffFactor", Reason: "must be at least 1.0"}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	if cfg.FatalErrors == nil {
		cfg.FatalErrors = func(error) bool { return false }
	}

	scheduleRequests := make(chan scheduleRequest) // Unbuffered: scheduling is serialized.
	statusRequests := make(chan statusRequest)

	k := newKernel(ctx, log.With("sys", "dlkernel"), cfg, scheduleRequests, statusRequests)

	return &DownloadManager{
		log:              log,
		k:                k,
		scheduleRequests: scheduleRequests,
		statusRequests:   statusRequests,
	}, nil
}

// DownloadHandle observes the eventual outcome of one scheduled
// download. It completes exactly once: nil when the block is stored,
// or the terminal download error.
type DownloadHandle struct {
	c <-chan error
}

func readyDownloadHandle() *DownloadHandle {
	c := make(chan error, 1)
	c <- nil
	return &DownloadHandle{c: c}
}

// Wait blocks until the download completes or ctx expires.
func (h *DownloadHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-h.c:
		return err
	}
}

// Done exposes the completion channel for use in selects.
// It delivers exactly one value.
func (h *DownloadHandle) Done() <-chan error {
	return h.c
}

// ScheduleDownload commits a download request for the block described
// by summary, to be fetched from source, optionally relayed to other
// peers once stored.
//
// The returned error is the schedule feedback: it is non-nil when the
// request did not enter the scheduler ([ErrAlreadyShutDown],
// [*MissingDependenciesError], or a backend presence-check failure).
// The returned handle is the download feedback; it completes when the
// block lands or the download terminally fails. The two outcomes are
// deliberately distinct types so callers cannot await the wrong one.
//
// Scheduling an already-stored block returns a completed handle.
// Scheduling an already-scheduled block merges: source is added,
// relay is OR-ed in, and the handle observes the same download.
func (m *DownloadManager) ScheduleDownload(
	ctx context.Context,
	summary clblock.Summary,
	source clp2p.Node,
	relay bool,
) (*DownloadHandle, error) {
	req := scheduleRequest{
		Summary: summary,
		Source:  source,
		Relay:   relay,
		Resp:    make(chan scheduleResult, 1),
	}

	select {
	case <-m.k.done:
		return nil, ErrAlreadyShutDown
	case <-ctx.Done():
		return nil, ctx.Err()
	case m.scheduleRequests <- req:
	}

	select {
	case <-m.k.done:
		return nil, ErrAlreadyShutDown
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-req.Resp:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Handle, nil
	}
}

// ManagerStatus is a point-in-time snapshot of scheduler state.
type ManagerStatus struct {
	// Scheduled counts all tracked items, tombstones included.
	Scheduled int

	// Downloading counts items with an active worker.
	Downloading int

	// Tombstoned counts items retained after a terminal failure.
	Tombstoned int
}

// Status reports a snapshot of the scheduler state,
// or [ErrAlreadyShutDown] once the kernel has stopped.
func (m *DownloadManager) Status(ctx context.Context) (ManagerStatus, error) {
	req := statusRequest{Resp: make(chan ManagerStatus, 1)}

	select {
	case <-m.k.done:
		return ManagerStatus{}, ErrAlreadyShutDown
	case <-ctx.Done():
		return ManagerStatus{}, ctx.Err()
	case m.statusRequests <- req:
	}

	select {
	case <-m.k.done:
		return ManagerStatus{}, ErrAlreadyShutDown
	case <-ctx.Done():
		return ManagerStatus{}, ctx.Err()
	case s := <-req.Resp:
		return s, nil
	}
}

// Wait blocks until the kernel and all workers have returned
// following context cancellation.
func (m *DownloadManager) Wait() {
	<-m.k.done
}
