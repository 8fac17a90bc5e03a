package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/snzup/subscription-relayer/relayer/metrics"
)

type idempotencyEntry struct {
	result   any
	storedAt time.Time
}

// IdempotencyStore remembers successful mutation results by key so a
// repeated request within the ttl gets the original result instead of a
// second submission. When full, the oldest fifth of entries is dropped.
type IdempotencyStore struct {
	mu         sync.Mutex
	entries    map[string]idempotencyEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	flights    singleflight.Group
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewIdempotencyStore creates a new IdempotencyStore
func NewIdempotencyStore(ttl time.Duration, maxEntries int, m *metrics.Metrics, logger zerolog.Logger) *IdempotencyStore {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &IdempotencyStore{
		entries:    make(map[string]idempotencyEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		metrics:    m,
		logger:     logger.With().Str("component", "idempotency_store").Logger(),
	}
}

// SetClock replaces the time source
func (s *IdempotencyStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Check returns the stored result for key if it has not expired
func (s *IdempotencyStore) Check(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.storedAt) >= s.ttl {
		delete(s.entries, key)
		s.metrics.SetIdempotencyEntries(len(s.entries))
		return nil, false
	}
	return e.result, true
}

// Store records result under key, evicting old entries if the store is full
func (s *IdempotencyStore) Store(key string, result any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[key] = idempotencyEntry{result: result, storedAt: s.now()}
	s.metrics.SetIdempotencyEntries(len(s.entries))
}

// Sweep removes expired entries and returns how many were dropped
func (s *IdempotencyStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if now.Sub(e.storedAt) >= s.ttl {
			delete(s.entries, k)
			removed++
		}
	}
	s.metrics.SetIdempotencyEntries(len(s.entries))
	return removed
}

// Len returns the number of stored entries
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *IdempotencyStore) evictOldestLocked() {
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		all = append(all, aged{key: k, at: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	n := (len(all) + 4) / 5
	for _, a := range all[:n] {
		delete(s.entries, a.key)
	}
	s.logger.Debug().Int("evicted", n).Int("remaining", len(s.entries)).Msg("idempotency store full, dropped oldest entries")
}

// Remember returns the stored result for key, or runs fn and stores its
// result on success. Concurrent callers with the same key share one fn call;
// if that call was abandoned by its own caller's context, a caller whose ctx
// is still live runs fn once more. The boolean reports whether the result
// came from an earlier call.
func Remember[T any](ctx context.Context, s *IdempotencyStore, key string, fn func() (T, error)) (T, bool, error) {
	out, cached, shared, err := rememberOnce(s, key, fn)
	if err != nil && shared && abandoned(err) && ctx.Err() == nil {
		s.logger.Debug().Str("key", key).Msg("shared call abandoned, running again")
		out, cached, _, err = rememberOnce(s, key, fn)
	}
	return out, cached, err
}

func rememberOnce[T any](s *IdempotencyStore, key string, fn func() (T, error)) (T, bool, bool, error) {
	if v, ok := s.Check(key); ok {
		if out, ok := v.(T); ok {
			return out, true, false, nil
		}
	}

	type outcome struct {
		value  T
		cached bool
	}
	v, err, shared := s.flights.Do(key, func() (interface{}, error) {
		if v, ok := s.Check(key); ok {
			if out, ok := v.(T); ok {
				return outcome{value: out, cached: true}, nil
			}
		}
		out, err := fn()
		if err != nil {
			return nil, err
		}
		s.Store(key, out)
		return outcome{value: out}, nil
	})
	if err != nil {
		var zero T
		return zero, false, shared, err
	}
	o := v.(outcome)
	return o.value, o.cached || shared, shared, nil
}
