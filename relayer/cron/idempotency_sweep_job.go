package cron

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Sweeper drops expired entries and reports how many were removed
type Sweeper interface {
	Sweep() int
}

// IdempotencySweepJob periodically evicts expired idempotency entries so the
// store stays bounded even when no request touches the stale keys.
type IdempotencySweepJob struct {
	store Sweeper
	loop  *ticker
}

func NewIdempotencySweepJob(store Sweeper, interval time.Duration, logger zerolog.Logger) *IdempotencySweepJob {
	j := &IdempotencySweepJob{store: store}
	j.loop = newTicker("idempotency_sweep_cron", interval, 0, j.SweepOnce, logger)
	return j
}

// Start launches the background loop and returns immediately (non-blocking).
func (j *IdempotencySweepJob) Start(ctx context.Context) error {
	if j.store == nil {
		return errors.New("cron: idempotency store must be non-nil")
	}
	j.loop.start(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
func (j *IdempotencySweepJob) Stop() {
	j.loop.stop()
}

// SweepOnce runs one sweep cycle
func (j *IdempotencySweepJob) SweepOnce(_ context.Context) error {
	if removed := j.store.Sweep(); removed > 0 {
		j.loop.logger.Debug().Int("removed", removed).Msg("expired idempotency entries swept")
	}
	return nil
}
