package clgossip

import (
	"sync"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clp2p"
)

// downloadItem is the kernel's record of one block being downloaded.
//
// Most fields are owned by the kernel goroutine and must only be
// touched there. sources and relay are shared with the item's worker,
// which reads them mid-download as they may widen after the worker
// starts; they are guarded by mu, written only under kernel control.
type downloadItem struct {
	summary clblock.Summary

	// pendingDeps holds the hash keys of dependencies that are
	// scheduled but not yet downloaded. The item cannot start
	// until this is empty.
	pendingDeps map[string]struct{}

	isDownloading bool

	// isError marks the item as a tombstone: a terminal failure
	// happened and the item is retained only to keep dependants
	// blocked until the block is re-scheduled.
	isError bool

	watchers []chan error

	mu      sync.Mutex
	sources []clp2p.Node
	relay   bool
}

func newDownloadItem(summary clblock.Summary, source clp2p.Node, relay bool) *downloadItem {
	return &downloadItem{
		summary:     summary,
		pendingDeps: make(map[string]struct{}),
		sources:     []clp2p.Node{source},
		relay:       relay,
	}
}

// canStart reports whether a worker may be launched for the item.
func (it *downloadItem) canStart() bool {
	return !it.isDownloading && !it.isError && len(it.pendingDeps) == 0
}

// addSource records another peer advertising the block.
// Called by the kernel only.
func (it *downloadItem) addSource(source clp2p.Node) {
	it.mu.Lock()
	defer it.mu.Unlock()

	for _, s := range it.sources {
		if s.ID == source.ID {
			return
		}
	}
	it.sources = append(it.sources, source)
}

// orRelay ORs the relay flag in; once true it stays true.
// Called by the kernel only.
func (it *downloadItem) orRelay(relay bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.relay = it.relay || relay
}

// relayRequested reads the sticky relay flag. Safe for workers.
func (it *downloadItem) relayRequested() bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.relay
}

// nextSource returns the first advertised source not yet in tried.
// Safe for workers; the source set may have widened since the last
// call, so failover consults a fresh snapshot each time.
func (it *downloadItem) nextSource(tried map[string]struct{}) (clp2p.Node, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	for _, s := range it.sources {
		if _, ok := tried[s.ID]; !ok {
			return s, true
		}
	}
	return clp2p.Node{}, false
}

// removeDependency drops the dependency with the given hash key,
// reporting whether the item now has no pending dependencies.
// Called by the kernel only.
func (it *downloadItem) removeDependency(key string) bool {
	delete(it.pendingDeps, key)
	return len(it.pendingDeps) == 0
}
