package cache

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/metrics"
	"github.com/snzup/subscription-relayer/relayer/state"
)

// TTLCache is a thread-safe, size-bounded key/value store whose entries
// expire ttl after they were written. Reads never extend an entry's life.
type TTLCache[K comparable, V any] struct {
	name    string
	lru     *expirable.LRU[K, V]
	metrics *metrics.Metrics
}

// NewTTLCache creates a cache holding at most size entries
func NewTTLCache[K comparable, V any](name string, size int, ttl time.Duration, m *metrics.Metrics) *TTLCache[K, V] {
	if size < 1 {
		size = 1
	}
	return &TTLCache[K, V]{
		name:    name,
		lru:     expirable.NewLRU[K, V](size, nil, ttl),
		metrics: m,
	}
}

// Get returns the live value for key
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	c.metrics.CacheLookup(c.name, ok)
	return v, ok
}

// Set stores value under key, replacing any previous entry
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Del drops key
func (c *TTLCache[K, V]) Del(key K) {
	c.lru.Remove(key)
}

// Len returns the number of entries, expired ones not yet reaped included
func (c *TTLCache[K, V]) Len() int {
	return c.lru.Len()
}

// Purge drops every entry
func (c *TTLCache[K, V]) Purge() {
	c.lru.Purge()
}

// ReadCache holds recently decoded challenge snapshots by account address.
// Concurrent misses on one address share a single ledger read.
type ReadCache struct {
	*TTLCache[solana.PublicKey, *state.Snapshot]
	flights singleflight.Group
	logger  zerolog.Logger
}

// NewReadCache creates a new ReadCache
func NewReadCache(size int, ttl time.Duration, m *metrics.Metrics, logger zerolog.Logger) *ReadCache {
	return &ReadCache{
		TTLCache: NewTTLCache[solana.PublicKey, *state.Snapshot]("read", size, ttl, m),
		logger:   logger.With().Str("component", "read_cache").Logger(),
	}
}

// Invalidate drops the snapshot for addr after a mutation touched it. Reads
// already in flight are not joined by later callers.
func (c *ReadCache) Invalidate(addr solana.PublicKey) {
	c.Del(addr)
	c.flights.Forget(addr.String())
	c.logger.Debug().Str("address", addr.String()).Msg("snapshot invalidated")
}

// Load returns the live snapshot for addr, or runs load once for every
// concurrent caller missing the same address. A caller whose shared read was
// abandoned by another caller's context reads again under its own.
func (c *ReadCache) Load(ctx context.Context, addr solana.PublicKey, load func() (*state.Snapshot, error)) (*state.Snapshot, error) {
	if snap, ok := c.Get(addr); ok {
		return snap, nil
	}
	snap, shared, err := c.loadOnce(addr, load)
	if err != nil && shared && abandoned(err) && ctx.Err() == nil {
		c.logger.Debug().Str("address", addr.String()).Msg("shared read abandoned, reading again")
		snap, _, err = c.loadOnce(addr, load)
	}
	return snap, err
}

func (c *ReadCache) loadOnce(addr solana.PublicKey, load func() (*state.Snapshot, error)) (*state.Snapshot, bool, error) {
	v, err, shared := c.flights.Do(addr.String(), func() (interface{}, error) {
		return load()
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*state.Snapshot), shared, nil
}

// abandoned reports whether err only records that a caller gave up waiting
func abandoned(err error) bool {
	if relerrors.Is(err, context.Canceled) || relerrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *relerrors.Error
	return relerrors.As(err, &e) && e.Reason == relerrors.ReasonCanceled
}
