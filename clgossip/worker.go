package clgossip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clcompress"
	"github.com/stakewithus/CasperLabs/clp2p"
	"github.com/stakewithus/CasperLabs/internal/gchan"
	"github.com/stakewithus/CasperLabs/internal/glog"
)

// workerGroup tracks worker goroutines for shutdown.
type workerGroup struct {
	wg sync.WaitGroup
}

func (g *workerGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *workerGroup) Wait() {
	g.wg.Wait()
}

// runWorker downloads one block and reports the outcome to the kernel.
// On shutdown the kernel is gone, so the report is dropped;
// a cancelled worker never produces a spurious success signal.
func (k *kernel) runWorker(ctx context.Context, key string, item *downloadItem) {
	err := k.download(ctx, item)

	_ = gchan.SendC(
		ctx, k.log,
		k.results, workerResult{Key: key, Err: err},
		"posting download result",
	)
}

// download drives the two nested loops of the retry policy:
// the outer loop fails over across the item's advertised sources,
// the inner loop (downloadFromSource) retries one source with backoff.
// A failover does not inherit the inner attempt counter.
//
// The returned error is the first error encountered across all
// attempts, except that a fatal error is returned as-is.
func (k *kernel) download(ctx context.Context, item *downloadItem) error {
	hash := item.summary.BlockHash

	var firstErr error
	tried := make(map[string]struct{})

	for {
		source, ok := item.nextSource(tried)
		if !ok {
			if firstErr == nil {
				// Unreachable in practice: items always carry
				// at least the source that scheduled them.
				firstErr = fmt.Errorf("no sources advertise block %v", hash)
			}
			return firstErr
		}
		tried[source.ID] = struct{}{}

		err := k.downloadFromSource(ctx, item, source)
		if err == nil {
			if item.relayRequested() && k.relayer != nil {
				// Relay strictly after the block and summary are stored.
				k.relayer.Relay(ctx, []clblock.Hash{hash})
			}
			return nil
		}

		if firstErr == nil {
			firstErr = err
		}
		if k.isFatal(err) || IsConfigurationError(err) || ctx.Err() != nil {
			return err
		}

		k.log.Info(
			"Source exhausted for block; failing over",
			"block", glog.Hex(hash),
			"source", source,
			"err", err,
		)
	}
}

// downloadFromSource retries a single source with exponential backoff.
// It returns nil on success; otherwise the first error encountered
// against this source, or immediately a fatal error.
func (k *kernel) downloadFromSource(
	ctx context.Context, item *downloadItem, source clp2p.Node,
) error {
	hash := item.summary.BlockHash

	var firstErr error
	for attempt := 0; ; attempt++ {
		err := k.attemptDownload(ctx, item.summary, source)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if k.isFatal(err) || IsConfigurationError(err) {
			return err
		}
		if ctx.Err() != nil || attempt >= k.retry.MaxRetries {
			return firstErr
		}

		delay, derr := k.retry.delay(attempt)
		if derr != nil {
			// Non-finite backoff is a fatal configuration error.
			return derr
		}

		k.metrics.DownloadsFailed.Add(1)
		k.log.Info(
			"Download attempt failed; retrying",
			"block", glog.Hex(hash),
			"source", source,
			"attempt", attempt,
			"backoff", delay,
			"err", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return firstErr
		case <-timer.C:
		}
	}
}

// attemptDownload performs one full fetch-validate-store pass.
func (k *kernel) attemptDownload(
	ctx context.Context, summary clblock.Summary, source clp2p.Node,
) error {
	hash := summary.BlockHash

	payload, err := k.fetch(ctx, hash, source)
	if err != nil {
		return err
	}

	content, err := clcompress.Decompress(
		payload.Header.CompressionAlgorithm,
		payload.Content,
		payload.Header.OriginalContentLength,
	)
	if err != nil {
		return &InvalidChunksError{Reason: err.Error(), Source: source}
	}

	block, err := k.codec.UnmarshalBlock(content)
	if err != nil {
		return &InvalidChunksError{
			Reason: fmt.Sprintf("parsing block %v: %v", hash, err),
			Source: source,
		}
	}
	if !block.Summary.BlockHash.Equal(hash) {
		return &InvalidChunksError{
			Reason: fmt.Sprintf("peer served block %v instead of %v", block.Summary.BlockHash, hash),
			Source: source,
		}
	}

	if err := k.backend.ValidateBlock(ctx, block); err != nil {
		return fmt.Errorf("validating block %v: %w", hash, err)
	}

	// Blocks are stored before summaries: a crash in between leaves
	// a block without a summary, which a restart can recover from,
	// whereas a summary without its block could not be served.
	if err := k.backend.StoreBlock(ctx, block); err != nil {
		return fmt.Errorf("storing block %v: %w", hash, err)
	}
	if err := k.backend.StoreBlockSummary(ctx, block.Summary); err != nil {
		return fmt.Errorf("storing summary of block %v: %w", hash, err)
	}

	return nil
}

// fetch performs the chunked transfer under the global fetch permit.
func (k *kernel) fetch(
	ctx context.Context, hash clblock.Hash, source clp2p.Node,
) (ChunkedPayload, error) {
	if err := k.fetchSem.Acquire(ctx, 1); err != nil {
		return ChunkedPayload{}, fmt.Errorf("acquiring fetch permit: %w", err)
	}
	defer k.fetchSem.Release(1)

	k.metrics.FetchesOngoing.Add(1)
	defer k.metrics.FetchesOngoing.Add(-1)

	svc, err := k.conn.Connect(ctx, source)
	if err != nil {
		return ChunkedPayload{}, fmt.Errorf("connecting to %v: %w", source, err)
	}
	defer svc.Close()

	stream, err := svc.GetBlockChunked(ctx, clp2p.GetBlockChunkedRequest{
		BlockHash:                     hash,
		AcceptedCompressionAlgorithms: clcompress.AcceptedAlgorithms(),
	})
	if err != nil {
		return ChunkedPayload{}, fmt.Errorf("requesting chunked block %v from %v: %w", hash, source, err)
	}

	return AssembleChunks(source, stream)
}
