package clgossip

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcodec"
	"github.com/stakewithus/CasperLabs/clp2p"
	"github.com/stakewithus/CasperLabs/internal/glog"
)

// scheduleRequest asks the kernel to create or merge a download item.
type scheduleRequest struct {
	Summary clblock.Summary
	Source  clp2p.Node
	Relay   bool

	Resp chan scheduleResult
}

// scheduleResult is the schedule feedback:
// exactly one of Handle and Err is set.
type scheduleResult struct {
	Handle *DownloadHandle
	Err    error
}

// workerResult reports a worker's terminal outcome back to the kernel.
type workerResult struct {
	Key string
	Err error
}

type statusRequest struct {
	Resp chan ManagerStatus
}

// kernel owns the item map and all scheduling state.
// Only the kernel goroutine touches items; workers communicate
// through the results channel.
type kernel struct {
	log *slog.Logger

	backend Backend
	conn    clp2p.Connector
	codec   clcodec.BlockCodec
	relayer *Relayer

	retry   RetryConfig
	isFatal func(error) bool
	metrics *Metrics

	fetchSem *semaphore.Weighted

	items map[string]*downloadItem

	scheduleRequests <-chan scheduleRequest
	statusRequests   <-chan statusRequest
	results          chan workerResult

	workers workerGroup

	done chan struct{}
}

func newKernel(
	ctx context.Context,
	log *slog.Logger,
	cfg DownloadManagerConfig,
	scheduleRequests <-chan scheduleRequest,
	statusRequests <-chan statusRequest,
) *kernel {
	k := &kernel{
		log: log,

		backend: cfg.Backend,
		conn:    cfg.Connector,
		codec:   cfg.Codec,
		relayer: cfg.Relayer,

		retry:   cfg.Retry,
		isFatal: cfg.FatalErrors,
		metrics: cfg.Metrics,

		fetchSem: semaphore.NewWeighted(int64(cfg.MaxParallelDownloads)),

		items: make(map[string]*downloadItem),

		scheduleRequests: scheduleRequests,
		statusRequests:   statusRequests,
		results:          make(chan workerResult),

		done: make(chan struct{}),
	}

	go k.run(ctx)
	return k
}

func (k *kernel) run(ctx context.Context) {
	defer close(k.done)
	defer k.finish(ctx)

	for {
		select {
		case <-ctx.Done():
			k.log.Info(
				"Download kernel stopping",
				"cause", context.Cause(ctx),
			)
			return

		case req := <-k.scheduleRequests:
			k.handleSchedule(ctx, req)

		case res := <-k.results:
			k.handleResult(ctx, res)

		case req := <-k.statusRequests:
			req.Resp <- k.status()
		}
	}
}

// finish runs after the main loop exits: it waits for workers,
// then completes every outstanding watcher with a shutdown error
// so no caller is left blocked.
func (k *kernel) finish(ctx context.Context) {
	k.workers.Wait()

	err := fmt.Errorf("%w: %w", ErrAlreadyShutDown, context.Cause(ctx))
	for _, item := range k.items {
		completeWatchers(item.watchers, err)
		item.watchers = nil
	}
}

func (k *kernel) status() ManagerStatus {
	var s ManagerStatus
	s.Scheduled = len(k.items)
	for _, item := range k.items {
		if item.isDownloading {
			s.Downloading++
		}
		if item.isError {
			s.Tombstoned++
		}
	}
	return s
}

// handleSchedule applies one Download signal.
// It responds exactly once, even if the handler panics;
// the kernel loop must survive any single signal.
func (k *kernel) handleSchedule(ctx context.Context, req scheduleRequest) {
	responded := false
	respond := func(res scheduleResult) {
		if responded {
			return
		}
		responded = true
		req.Resp <- res
	}
	defer func() {
		if r := recover(); r != nil {
			k.log.Error(
				"Panic while applying schedule request; kernel continuing",
				"block", glog.Hex(req.Summary.BlockHash),
				"panic", r,
			)
			respond(scheduleResult{Err: fmt.Errorf("internal scheduling error: %v", r)})
		}
	}()

	hash := req.Summary.BlockHash
	key := hash.Key()

	if item, ok := k.items[key]; ok {
		// Merge into the existing item; this also revives tombstones.
		item.addSource(req.Source)
		item.orRelay(req.Relay)

		w := make(chan error, 1)
		item.watchers = append(item.watchers, w)

		if item.isError {
			item.isError = false
			k.maybeStartWorker(ctx, key, item)
		}

		respond(scheduleResult{Handle: &DownloadHandle{c: w}})
		return
	}

	stored, err := k.backend.HasBlock(ctx, hash)
	if err != nil {
		respond(scheduleResult{Err: fmt.Errorf("checking presence of block %v: %w", hash, err)})
		return
	}
	if stored {
		// Idempotent success: no item, immediately complete.
		respond(scheduleResult{Handle: readyDownloadHandle()})
		return
	}

	item := newDownloadItem(req.Summary, req.Source, req.Relay)

	var missing []clblock.Hash
	for _, dep := range req.Summary.Dependencies() {
		if _, ok := k.items[dep.Key()]; ok {
			item.pendingDeps[dep.Key()] = struct{}{}
			continue
		}

		depStored, err := k.backend.HasBlock(ctx, dep)
		if err != nil {
			respond(scheduleResult{Err: fmt.Errorf("checking presence of dependency %v of block %v: %w", dep, hash, err)})
			return
		}
		if !depStored {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		respond(scheduleResult{Err: &MissingDependenciesError{BlockHash: hash, Missing: missing}})
		return
	}

	w := make(chan error, 1)
	item.watchers = append(item.watchers, w)

	k.items[key] = item
	k.metrics.DownloadsScheduled.Set(float64(len(k.items)))

	k.maybeStartWorker(ctx, key, item)

	respond(scheduleResult{Handle: &DownloadHandle{c: w}})
}

// handleResult applies one DownloadSuccess or DownloadFailure signal.
func (k *kernel) handleResult(ctx context.Context, res workerResult) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Error(
				"Panic while applying worker result; kernel continuing",
				"panic", r,
			)
		}
	}()

	item, ok := k.items[res.Key]
	if !ok {
		// Should be impossible: items are only removed on success,
		// and at most one worker runs per item.
		k.log.Warn("Worker result for unknown item", "key", glog.Hex([]byte(res.Key)))
		return
	}

	item.isDownloading = false
	k.metrics.DownloadsOngoing.Add(-1)

	if res.Err != nil {
		// Tombstone: keep the item so dependants stay blocked,
		// but complete and drop its watchers.
		item.isError = true
		completeWatchers(item.watchers, res.Err)
		item.watchers = nil

		k.metrics.DownloadsFailed.Add(1)
		k.log.Warn(
			"Block download failed terminally",
			"block", glog.Hex(item.summary.BlockHash),
			"err", res.Err,
		)
		return
	}

	delete(k.items, res.Key)
	k.metrics.DownloadsScheduled.Set(float64(len(k.items)))
	k.metrics.DownloadsSucceeded.Add(1)

	// Unblock dependants; tombstoned dependants keep their edges
	// trimmed too, but never start here.
	for depKey, dependant := range k.items {
		if _, waiting := dependant.pendingDeps[res.Key]; !waiting {
			continue
		}
		if dependant.removeDependency(res.Key) {
			k.maybeStartWorker(ctx, depKey, dependant)
		}
	}

	completeWatchers(item.watchers, nil)
	item.watchers = nil
}

// maybeStartWorker launches a worker when the item is ready.
func (k *kernel) maybeStartWorker(ctx context.Context, key string, item *downloadItem) {
	if !item.canStart() {
		return
	}

	item.isDownloading = true
	k.metrics.DownloadsOngoing.Add(1)

	k.workers.Go(func() {
		k.runWorker(ctx, key, item)
	})
}

func completeWatchers(watchers []chan error, err error) {
	for _, w := range watchers {
		// Watcher channels are buffered and completed exactly once,
		// so this never blocks.
		w <- err
	}
}
