package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
)

func TestGateBoundsConcurrency(t *testing.T) {
	const (
		capacity = 5
		tasks    = 50
	)
	g := New("rpc", capacity, tasks, nil)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Run(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(capacity))
	assert.Equal(t, int64(0), g.InFlight())
	assert.Equal(t, int64(0), g.Waiting())
}

func TestGateOverloadFailsFast(t *testing.T) {
	g := New("build", 1, 1, nil)
	hold := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = g.Run(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	queued := make(chan error, 1)
	go func() {
		queued <- g.Run(context.Background(), func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return g.Waiting() == 1 }, time.Second, time.Millisecond)

	begin := time.Now()
	err := g.Run(context.Background(), func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	require.Error(t, err)
	assert.True(t, relerrors.IsKind(err, relerrors.KindOverload))
	assert.Less(t, time.Since(begin), 100*time.Millisecond)

	close(hold)
	require.NoError(t, <-queued)
}

func TestGateReleasesOnPanic(t *testing.T) {
	g := NewExclusive("distribution", 10, nil)

	assert.Panics(t, func() {
		_ = g.Run(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, int64(0), g.InFlight())

	err := g.Run(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestGateWaitHonoursContext(t *testing.T) {
	g := NewExclusive("distribution", 10, nil)
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Run(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Run(ctx, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, relerrors.IsKind(err, relerrors.KindTransient))
	assert.Equal(t, int64(0), g.Waiting())
}

func TestDoReturnsValue(t *testing.T) {
	g := New("rpc", 2, 2, nil)
	v, err := Do(context.Background(), g, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestRateLimiter(t *testing.T) {
	t.Run("burst then throttle", func(t *testing.T) {
		l := NewRateLimiter(1, 2)
		assert.True(t, l.Allow())
		assert.True(t, l.Allow())
		assert.False(t, l.Allow())
	})

	t.Run("wait past deadline fails", func(t *testing.T) {
		l := NewRateLimiter(0.1, 1)
		require.NoError(t, l.Acquire(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := l.Acquire(ctx)
		require.Error(t, err)
		assert.True(t, relerrors.IsKind(err, relerrors.KindTransient))
	})

	t.Run("disabled never blocks", func(t *testing.T) {
		l := NewRateLimiter(0, 0)
		for i := 0; i < 100; i++ {
			require.NoError(t, l.Acquire(context.Background()))
		}
	})
}
