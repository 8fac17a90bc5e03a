package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/metrics"
	"github.com/snzup/subscription-relayer/relayer/policy"
)

// RentSource answers rent-exemption queries
type RentSource interface {
	MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
}

// DefaultRentFloor approximates the rent-exempt minimum for size bytes using
// the ledger's default rent parameters (3480 lamports per byte-year, two
// years, 128 bytes of account overhead).
func DefaultRentFloor(size uint64) uint64 {
	return (size + 128) * 3480 * 2
}

// RentFloor memoises the rent-exempt minimum for the challenge account size.
// The value is fetched once and refreshed periodically.
type RentFloor struct {
	source   RentSource
	size     uint64
	mode     policy.Mode
	fallback uint64
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu        sync.RWMutex
	value     uint64
	known     bool
	degraded  bool
	fetchedAt time.Time
}

// NewRentFloor creates a RentFloor for accounts of size bytes. fallback 0
// means DefaultRentFloor(size); it is only used under policy.FallbackValue.
func NewRentFloor(source RentSource, size uint64, mode policy.Mode, fallback uint64, m *metrics.Metrics, logger zerolog.Logger) *RentFloor {
	if fallback == 0 {
		fallback = DefaultRentFloor(size)
	}
	return &RentFloor{
		source:   source,
		size:     size,
		mode:     mode,
		fallback: fallback,
		metrics:  m,
		logger:   logger.With().Str("component", "rent_floor").Logger(),
	}
}

// Get returns the memoised floor, fetching it on first use
func (r *RentFloor) Get(ctx context.Context) (uint64, error) {
	r.mu.RLock()
	if r.known && !r.degraded {
		v := r.value
		r.mu.RUnlock()
		return v, nil
	}
	r.mu.RUnlock()
	return r.Refresh(ctx)
}

// Refresh fetches the floor from the ledger. On failure the previous value is
// kept if there is one; otherwise the policy decides between an error and
// the fallback value.
func (r *RentFloor) Refresh(ctx context.Context) (uint64, error) {
	v, err := r.source.MinimumBalanceForRentExemption(ctx, r.size)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		r.value, r.known, r.degraded, r.fetchedAt = v, true, false, time.Now()
		r.metrics.SetRentFloor(v)
		return v, nil
	}
	if r.known && !r.degraded {
		r.logger.Warn().Err(err).Uint64("lamports", r.value).Msg("rent floor refresh failed, keeping previous value")
		return r.value, nil
	}
	if r.mode == policy.FallbackValue {
		r.value, r.known, r.degraded = r.fallback, true, true
		r.metrics.SetRentFloor(r.fallback)
		r.logger.Warn().Err(err).Uint64("lamports", r.fallback).Msg("rent floor unavailable, using fallback value")
		return r.fallback, nil
	}
	return 0, relerrors.Transient(relerrors.ReasonRentUnavailable, "rent-exempt minimum is unavailable", err)
}

// Degraded reports whether the current value is the fallback
func (r *RentFloor) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}
