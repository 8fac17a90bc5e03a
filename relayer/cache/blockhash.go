package cache

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/snzup/subscription-relayer/relayer/metrics"
)

// Anchor is a recent blockhash and the last block height at which a
// transaction referencing it is still accepted.
type Anchor struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// BlockhashCache keeps the most recent anchor for a short time so bursts of
// submissions share one fetch.
type BlockhashCache struct {
	mu      sync.RWMutex
	anchor  *Anchor
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewBlockhashCache creates a new BlockhashCache. ttl <= 0 disables caching.
func NewBlockhashCache(ttl time.Duration, m *metrics.Metrics) *BlockhashCache {
	return &BlockhashCache{ttl: ttl, now: time.Now, metrics: m}
}

// Get returns the cached anchor if it is younger than the ttl
func (c *BlockhashCache) Get() (Anchor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok := c.anchor != nil && c.ttl > 0 && c.now().Sub(c.anchor.FetchedAt) < c.ttl
	c.metrics.CacheLookup("blockhash", ok)
	if !ok {
		return Anchor{}, false
	}
	return *c.anchor, true
}

// Set stores a freshly fetched anchor
func (c *BlockhashCache) Set(a Anchor) {
	if a.FetchedAt.IsZero() {
		a.FetchedAt = c.now()
	}
	c.mu.Lock()
	c.anchor = &a
	c.mu.Unlock()
}

// Invalidate forgets the anchor, typically after the ledger reported it expired
func (c *BlockhashCache) Invalidate() {
	c.mu.Lock()
	c.anchor = nil
	c.mu.Unlock()
}
