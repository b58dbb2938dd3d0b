// Package breaker implements the per-provider circuit breaker: a
// Closed/Open/HalfOpen gate that trips on consecutive failures and
// recovers via a single probe call. The mutex-guarded state-enum shape
// and OTel transition counters follow a standard resilience.CircuitBreaker
// design, simplified from an adaptive sliding-window failure-rate model
// to a plain consecutive-failure count.
package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swarmguard/agentkernel/internal/clock"
	"github.com/swarmguard/agentkernel/internal/kernelerr"
	"github.com/swarmguard/agentkernel/internal/telemetry"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

func (s state) String() string {
	switch s {
	case closed:
		return "Closed"
	case open:
		return "Open"
	case halfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Breaker gates calls to a single provider.
type Breaker struct {
	mu sync.Mutex

	clk clock.Clock
	m   telemetry.Metrics

	failureThreshold int
	recoveryTimeout  time.Duration

	state             state
	consecutiveFails  int
	openedAt          time.Time
	probeInFlight     atomic.Bool
}

// Config configures a single Breaker.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second}
}

// New constructs a Breaker starting Closed.
func New(cfg Config, clk clock.Clock, m telemetry.Metrics) *Breaker {
	return &Breaker{clk: clk, m: m, failureThreshold: cfg.FailureThreshold, recoveryTimeout: cfg.RecoveryTimeout, state: closed}
}

// Allow reports whether a call may proceed now, transitioning Open->HalfOpen
// when the recovery timeout has elapsed. At most one HalfOpen probe is
// admitted at a time across concurrent callers.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	switch b.state {
	case closed:
		b.mu.Unlock()
		return true
	case open:
		if !b.clk.Now().Before(b.openedAt.Add(b.recoveryTimeout)) {
			b.state = halfOpen
			b.probeInFlight.Store(false)
		} else {
			b.mu.Unlock()
			return false
		}
	}
	// halfOpen (either already was, or just transitioned above)
	admit := b.probeInFlight.CompareAndSwap(false, true)
	b.mu.Unlock()
	return admit
}

// AllowErr is Allow expressed as the kernel's error taxonomy, for callers
// that want a CircuitOpen error rather than a bool.
func (b *Breaker) AllowErr() error {
	if b.Allow() {
		return nil
	}
	return kernelerr.ErrCircuitOpen
}

// Transition reports a state change caused by a single RecordResult call,
// so a caller holding the domain event log can append a
// CircuitBreakerTripped/CircuitBreakerClosed event alongside the OTel
// counter this package bumps internally. The breaker has no DagID/TaskID
// to attach to such an event, so emitting it is left to the caller.
type Transition int

const (
	NoTransition Transition = iota
	TransitionedToOpen
	TransitionedToClosed
)

// RecordResult reports the outcome of a call admitted by Allow and returns
// the state transition it caused, if any.
func (b *Breaker) RecordResult(success bool) Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case closed:
		if success {
			b.consecutiveFails = 0
			return NoTransition
		}
		b.consecutiveFails++
		if b.consecutiveFails >= b.failureThreshold {
			b.transitionToOpen()
			return TransitionedToOpen
		}
		return NoTransition
	case halfOpen:
		b.probeInFlight.Store(false)
		if success {
			b.transitionToClosed()
			return TransitionedToClosed
		}
		b.transitionToOpen()
		return TransitionedToOpen
	default: // open: a result arriving after the breaker already
		// re-opened (a stale probe) is ignored.
		return NoTransition
	}
}

func (b *Breaker) transitionToOpen() {
	b.state = open
	b.openedAt = b.clk.Now()
	b.consecutiveFails = 0
	if b.m.CircuitTransitions != nil {
		b.m.CircuitTransitions.Add(context.Background(), 1)
	}
}

func (b *Breaker) transitionToClosed() {
	b.state = closed
	b.consecutiveFails = 0
	b.openedAt = time.Time{}
	if b.m.CircuitTransitions != nil {
		b.m.CircuitTransitions.Add(context.Background(), 1)
	}
}

// State reports the current state name, for diagnostics and tests.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// Registry keeps one Breaker per provider id.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	clk      clock.Clock
	m        telemetry.Metrics
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config, clk clock.Clock, m telemetry.Metrics) *Registry {
	return &Registry{cfg: cfg, clk: clk, m: m, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for providerID, creating it on first use.
func (r *Registry) For(providerID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[providerID]
	if !ok {
		b = New(r.cfg, r.clk, r.m)
		r.breakers[providerID] = b
	}
	return b
}
