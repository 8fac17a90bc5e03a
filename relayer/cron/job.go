// Package cron runs the relayer's periodic maintenance: dropping expired
// idempotency entries and refreshing the memoised rent floor.
package cron

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ticker runs fn every interval on its own goroutine until stopped. A failed
// cycle is logged and skipped.
type ticker struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       func(ctx context.Context) error
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newTicker(name string, interval, timeout time.Duration, fn func(ctx context.Context) error, logger zerolog.Logger) *ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &ticker{
		name:     name,
		interval: interval,
		timeout:  timeout,
		fn:       fn,
		logger:   logger.With().Str("component", name).Logger(),
	}
}

// start launches the loop and returns immediately.
// Safe to call multiple times; subsequent calls are no-ops.
func (t *ticker) start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.stopCh = make(chan struct{})
	t.running = true
	t.wg.Add(1)
	go t.run(ctx)
}

// stop signals the loop to exit and waits for it to finish.
// Safe to call multiple times.
func (t *ticker) stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	close(t.stopCh)
	t.running = false
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *ticker) run(parent context.Context) {
	defer t.wg.Done()

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-parent.Done():
			t.logger.Info().Msg("context canceled; stopping")
			return
		case <-t.stopCh:
			t.logger.Info().Msg("stop requested; stopping")
			return
		case <-tk.C:
			if err := t.once(parent); err != nil {
				t.logger.Warn().Err(err).Msg("cycle failed; skipping")
			}
		}
	}
}

func (t *ticker) once(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, t.timeout)
	defer cancel()
	return t.fn(ctx)
}
