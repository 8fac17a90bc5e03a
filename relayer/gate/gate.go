// Package gate bounds how much work the relayer has outstanding at once.
package gate

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/metrics"
)

// DefaultMaxQueue is the waiter bound used when none is configured
const DefaultMaxQueue = 1000

// Gate admits at most capacity concurrent operations and queues up to
// maxQueue more in FIFO order. Anything beyond that fails fast with an
// overload error. The slot is released when the operation returns, panics
// or its context is done.
type Gate struct {
	name     string
	capacity int64
	maxQueue int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	waiting  atomic.Int64
	metrics  *metrics.Metrics
}

// New creates a gate. capacity below 1 is treated as 1.
func New(name string, capacity, maxQueue int, m *metrics.Metrics) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Gate{
		name:     name,
		capacity: int64(capacity),
		maxQueue: int64(maxQueue),
		sem:      semaphore.NewWeighted(int64(capacity)),
		metrics:  m,
	}
}

// NewExclusive creates a capacity-1 gate whose holders run one at a time
func NewExclusive(name string, maxQueue int, m *metrics.Metrics) *Gate {
	return New(name, 1, maxQueue, m)
}

// Name returns the gate's label
func (g *Gate) Name() string {
	return g.name
}

// InFlight returns the number of operations holding a slot
func (g *Gate) InFlight() int64 {
	return g.inFlight.Load()
}

// Waiting returns the number of operations queued for a slot
func (g *Gate) Waiting() int64 {
	return g.waiting.Load()
}

// Run executes fn once a slot is available
func (g *Gate) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()
	return fn(ctx)
}

// Do is Run for operations that produce a value
func Do[T any](ctx context.Context, g *Gate, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (g *Gate) acquire(ctx context.Context) error {
	if !g.sem.TryAcquire(1) {
		if g.waiting.Add(1) > g.maxQueue {
			g.waiting.Add(-1)
			g.metrics.GateRejected(g.name)
			return relerrors.Overload(fmt.Sprintf("%s gate is full: %d in flight, %d queued", g.name, g.capacity, g.maxQueue))
		}
		g.publish()
		err := g.sem.Acquire(ctx, 1)
		g.waiting.Add(-1)
		if err != nil {
			g.publish()
			return relerrors.Transient(relerrors.ReasonCanceled, fmt.Sprintf("gave up waiting for %s gate", g.name), err)
		}
	}
	g.inFlight.Add(1)
	g.publish()
	return nil
}

func (g *Gate) release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
	g.publish()
}

func (g *Gate) publish() {
	g.metrics.SetGate(g.name, g.inFlight.Load(), g.waiting.Load())
}
