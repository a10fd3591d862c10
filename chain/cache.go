package chain

import (
	"sync"
	"time"

	"github.com/djschnei21/btcops/utxo"
)

// MaxCacheAge bounds how long a cached scan result is trusted before a scan
// is forced to hit the backend again, grounded on MaxCacheAge in the
// teacher's cache.go.
const MaxCacheAge = 5 * time.Minute

type scanEntry struct {
	set     *utxo.Set
	fetched time.Time
}

// ScanCache is a bounded-TTL cache of descriptor scan results, shared across
// a Backend's Scan calls so repeated scans of the same descriptor within
// MaxCacheAge reuse the prior result instead of re-querying the chain.
// Grounded on the double-checked-lock WalletCacheManager in the teacher's
// cache.go, adapted from per-wallet address caching to per-descriptor
// scan-result caching (there is no wallet-name keyspace here, only
// descriptors).
type ScanCache struct {
	mu      sync.RWMutex
	entries map[string]scanEntry
}

// NewScanCache builds an empty ScanCache.
func NewScanCache() *ScanCache {
	return &ScanCache{entries: make(map[string]scanEntry)}
}

// Get returns the cached set for descriptor if it was fetched within
// MaxCacheAge.
func (c *ScanCache) Get(descriptor string) (*utxo.Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[descriptor]
	if !ok || time.Since(e.fetched) > MaxCacheAge {
		return nil, false
	}
	return e.set, true
}

// Put records set as the current scan result for descriptor.
func (c *ScanCache) Put(descriptor string, set *utxo.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[descriptor] = scanEntry{set: set, fetched: time.Now()}
}

// Invalidate drops any cached result for descriptor, forcing the next Scan
// to hit the backend.
func (c *ScanCache) Invalidate(descriptor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, descriptor)
}
