package cron

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RentRefresher re-reads the rent-exempt minimum from the ledger
type RentRefresher interface {
	Refresh(ctx context.Context) (uint64, error)
}

// RentRefreshJob keeps the memoised rent floor current. A failed refresh
// keeps the previous value.
type RentRefreshJob struct {
	rent RentRefresher
	loop *ticker
}

func NewRentRefreshJob(rent RentRefresher, interval, perRefreshTimeout time.Duration, logger zerolog.Logger) *RentRefreshJob {
	if perRefreshTimeout <= 0 {
		perRefreshTimeout = 10 * time.Second
	}
	j := &RentRefreshJob{rent: rent}
	j.loop = newTicker("rent_refresh_cron", interval, perRefreshTimeout, j.refresh, logger)
	return j
}

// Start launches the background loop and returns immediately (non-blocking).
func (j *RentRefreshJob) Start(ctx context.Context) error {
	if j.rent == nil {
		return errors.New("cron: rent floor must be non-nil")
	}
	j.loop.start(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
func (j *RentRefreshJob) Stop() {
	j.loop.stop()
}

// RefreshOnce runs one refresh cycle bounded by the job's per-refresh timeout
func (j *RentRefreshJob) RefreshOnce(ctx context.Context) error {
	return j.loop.once(ctx)
}

func (j *RentRefreshJob) refresh(ctx context.Context) error {
	v, err := j.rent.Refresh(ctx)
	if err != nil {
		return errors.Wrap(err, "rent floor refresh")
	}
	j.loop.logger.Debug().Uint64("lamports", v).Msg("rent floor refreshed")
	return nil
}
