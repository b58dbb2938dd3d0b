// Package workerpool implements the bounded concurrency primitive: timed
// FIFO permit acquisition with live occupancy stats, built around a
// buffered channel of permit tokens.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swarmguard/agentkernel/internal/kernelerr"
	"github.com/swarmguard/agentkernel/internal/telemetry"
)

// Permit represents one held unit of concurrency. Release must be called
// at least once; calls after the first have no effect.
type Permit struct {
	pool *Pool
	once sync.Once
}

// Release returns the permit to the pool. Safe to call more than once;
// only the first call has effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.pool.release()
	})
}

// Pool is a bounded, FIFO concurrency gate.
type Pool struct {
	m telemetry.Metrics

	tokens chan struct{}
	done   chan struct{}
	closed atomic.Bool

	capacity       int
	inUse          atomic.Int64
	totalAcquired  atomic.Int64
	totalReleased  atomic.Int64
	acquireTimeout atomic.Int64
}

// New creates a Pool with the given capacity.
func New(capacity int, m telemetry.Metrics) *Pool {
	p := &Pool{
		m:        m,
		tokens:   make(chan struct{}, capacity),
		done:     make(chan struct{}),
		capacity: capacity,
	}
	for i := 0; i < capacity; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Acquire blocks cooperatively (honoring ctx cancellation/deadline) until
// a permit is free, the pool is shut down, or timeout elapses.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Permit, error) {
	if p.closed.Load() {
		return nil, kernelerr.ErrShutdown
	}
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-p.tokens:
		p.inUse.Add(1)
		p.totalAcquired.Add(1)
		return &Permit{pool: p}, nil
	case <-p.done:
		return nil, kernelerr.ErrShutdown
	case <-ctx.Done():
		return nil, kernelerr.ErrAcquireTimeout
	case <-timeoutCh:
		p.acquireTimeout.Add(1)
		if p.m.WorkerAcquireTimeouts != nil {
			p.m.WorkerAcquireTimeouts.Add(ctx, 1)
		}
		return nil, kernelerr.ErrAcquireTimeout
	}
}

// TryAcquire is a non-blocking Acquire, used by the scheduler's
// per-tick dispatch loop.
func (p *Pool) TryAcquire() (*Permit, bool) {
	if p.closed.Load() {
		return nil, false
	}
	select {
	case <-p.tokens:
		p.inUse.Add(1)
		p.totalAcquired.Add(1)
		return &Permit{pool: p}, true
	default:
		return nil, false
	}
}

func (p *Pool) release() {
	p.inUse.Add(-1)
	p.totalReleased.Add(1)
	select {
	case p.tokens <- struct{}{}:
	default:
		// token channel already full; drop the surplus token
	}
}

// Shutdown rejects new acquires. Existing permits still drain normally
// through Release.
func (p *Pool) Shutdown() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.done)
	}
}

// Stats reports current occupancy.
type Stats struct {
	Capacity        int
	InUse           int64
	Available       int64
	TotalAcquired   int64
	TotalReleased   int64
	AcquireTimeouts int64
}

func (p *Pool) Stats() Stats {
	inUse := p.inUse.Load()
	return Stats{
		Capacity:        p.capacity,
		InUse:           inUse,
		Available:       int64(p.capacity) - inUse,
		TotalAcquired:   p.totalAcquired.Load(),
		TotalReleased:   p.totalReleased.Load(),
		AcquireTimeouts: p.acquireTimeout.Load(),
	}
}
