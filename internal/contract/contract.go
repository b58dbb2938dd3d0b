// Package contract implements the resource-contract framework: immutable
// limits plus mutable usage counters, with hierarchical budget
// conservation enforced at child-spawn time.
package contract

import (
	"sync"
	"time"

	"github.com/swarmguard/agentkernel/internal/id"
	"github.com/swarmguard/agentkernel/internal/kernelerr"
)

// Status mirrors an AgentContract's lifecycle status.
type Status int

const (
	Active Status = iota
	Completed
	Exceeded
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Completed:
		return "Completed"
	case Exceeded:
		return "Exceeded"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Limits are the four resource axes a contract enforces.
type Limits struct {
	TokenLimit      uint64
	CostLimit       float64
	ApiCallLimit    uint64
	TimeLimitSecs   uint64
}

// Usage tracks actuals against Limits. Non-negative, monotonically
// non-decreasing until the contract reaches a terminal status.
type Usage struct {
	TokensUsed    uint64
	CostUsed      float64
	ApiCallsUsed  uint64
	TimeElapsedS  uint64
}

// Preset resource-limit bundles, named and valued after the reference
// implementation's simple/medium/complex/long_running tiers. medium()
// matches the kernel's configuration defaults on tokens, cost and time;
// its api-call limit (50) is half the configured default (100).
func SimpleLimits() Limits   { return Limits{TokenLimit: 4000, CostLimit: 0.05, ApiCallLimit: 10, TimeLimitSecs: 60} }
func MediumLimits() Limits   { return Limits{TokenLimit: 20000, CostLimit: 0.25, ApiCallLimit: 50, TimeLimitSecs: 300} }
func ComplexLimits() Limits  { return Limits{TokenLimit: 100000, CostLimit: 2.00, ApiCallLimit: 200, TimeLimitSecs: 900} }
func LongRunningLimits() Limits {
	return Limits{TokenLimit: 500000, CostLimit: 10.00, ApiCallLimit: 1000, TimeLimitSecs: 3600}
}

// Overhead returns a tenth of l, a conservative per-subtask reservation
// hint for callers sizing many children against one parent.
func (l Limits) Overhead() Limits {
	return Limits{
		TokenLimit:    l.TokenLimit / 10,
		CostLimit:     l.CostLimit / 10,
		ApiCallLimit:  l.ApiCallLimit / 10,
		TimeLimitSecs: l.TimeLimitSecs / 10,
	}
}

// Allocatable returns 90% of l, leaving headroom for overhead.
func (l Limits) Allocatable() Limits {
	return Limits{
		TokenLimit:    uint64(float64(l.TokenLimit) * 0.9),
		CostLimit:     l.CostLimit * 0.9,
		ApiCallLimit:  uint64(float64(l.ApiCallLimit) * 0.9),
		TimeLimitSecs: uint64(float64(l.TimeLimitSecs) * 0.9),
	}
}

// FitsWithin reports whether every axis of l is within the corresponding
// axis of other.
func (l Limits) FitsWithin(other Limits) bool {
	return l.TokenLimit <= other.TokenLimit &&
		l.CostLimit <= other.CostLimit &&
		l.ApiCallLimit <= other.ApiCallLimit &&
		l.TimeLimitSecs <= other.TimeLimitSecs
}

// Contract is an AgentContract: a resource budget envelope governing a
// task's execution. Concurrent Record* calls on the same contract are
// serialised by mu, implementing the atomic check-and-commit the budget
// model requires.
type Contract struct {
	mu sync.Mutex

	ID               id.ContractId
	AgentID          id.AgentId
	TaskID           id.TaskId
	ParentContractID id.ContractId
	HasParent        bool

	Limits Limits
	Usage  Usage
	Status Status

	CreatedAt time.Time
	ExpiresAt time.Time

	ChildIDs []id.ContractId
}

// New creates a root contract with no parent.
func New(contractID id.ContractId, agentID id.AgentId, taskID id.TaskId, limits Limits, now time.Time) *Contract {
	return &Contract{
		ID:        contractID,
		AgentID:   agentID,
		TaskID:    taskID,
		Limits:    limits,
		Status:    Active,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(limits.TimeLimitSecs) * time.Second),
	}
}

func (c *Contract) recordLocked(now time.Time) error {
	if c.Status != Active {
		return kernelerr.ErrContractClosed
	}
	if now.After(c.ExpiresAt) {
		c.Status = Exceeded
		return kernelerr.New(kernelerr.CodeTimeLimitExceeded, "contract time limit exceeded").
			WithUsage(float64(c.Usage.TimeElapsedS), float64(c.Limits.TimeLimitSecs))
	}
	return nil
}

// RecordTokens atomically checks usage+n against the token limit before
// committing.
func (c *Contract) RecordTokens(n uint64, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.recordLocked(now); err != nil {
		return err
	}
	if c.Usage.TokensUsed+n > c.Limits.TokenLimit {
		c.Status = Exceeded
		return kernelerr.New(kernelerr.CodeTokenLimitExceeded, "token limit exceeded").
			WithUsage(float64(c.Usage.TokensUsed+n), float64(c.Limits.TokenLimit))
	}
	c.Usage.TokensUsed += n
	return nil
}

// RecordCost atomically checks usage+c against the cost limit.
func (c *Contract) RecordCost(dollars float64, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.recordLocked(now); err != nil {
		return err
	}
	if c.Usage.CostUsed+dollars > c.Limits.CostLimit {
		c.Status = Exceeded
		return kernelerr.New(kernelerr.CodeCostLimitExceeded, "cost limit exceeded").
			WithUsage(c.Usage.CostUsed+dollars, c.Limits.CostLimit)
	}
	c.Usage.CostUsed += dollars
	return nil
}

// RecordAPICall atomically increments the api-call counter.
func (c *Contract) RecordAPICall(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.recordLocked(now); err != nil {
		return err
	}
	if c.Usage.ApiCallsUsed+1 > c.Limits.ApiCallLimit {
		c.Status = Exceeded
		return kernelerr.New(kernelerr.CodeApiCallLimitExceeded, "api call limit exceeded").
			WithUsage(float64(c.Usage.ApiCallsUsed+1), float64(c.Limits.ApiCallLimit))
	}
	c.Usage.ApiCallsUsed++
	return nil
}

// RecordTime atomically advances elapsed wall time.
func (c *Contract) RecordTime(seconds uint64, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.recordLocked(now); err != nil {
		return err
	}
	if c.Usage.TimeElapsedS+seconds > c.Limits.TimeLimitSecs {
		c.Status = Exceeded
		return kernelerr.New(kernelerr.CodeTimeLimitExceeded, "time limit exceeded").
			WithUsage(float64(c.Usage.TimeElapsedS+seconds), float64(c.Limits.TimeLimitSecs))
	}
	c.Usage.TimeElapsedS += seconds
	return nil
}

// Remaining returns the unconsumed budget on every axis.
func (c *Contract) Remaining() Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Contract) remainingLocked() Limits {
	remain := func(limit, used uint64) uint64 {
		if used >= limit {
			return 0
		}
		return limit - used
	}
	remainF := func(limit, used float64) float64 {
		if used >= limit {
			return 0
		}
		return limit - used
	}
	return Limits{
		TokenLimit:    remain(c.Limits.TokenLimit, c.Usage.TokensUsed),
		CostLimit:     remainF(c.Limits.CostLimit, c.Usage.CostUsed),
		ApiCallLimit:  remain(c.Limits.ApiCallLimit, c.Usage.ApiCallsUsed),
		TimeLimitSecs: remain(c.Limits.TimeLimitSecs, c.Usage.TimeElapsedS),
	}
}

// Utilization returns how much of each axis is consumed: the token,
// api-call and time axes as whole percentages (0-100, truncated), the
// cost axis as a fraction in [0,1].
func (c *Contract) Utilization() Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	frac := func(used, limit uint64) uint64 {
		if limit == 0 {
			return 0
		}
		return used * 100 / limit
	}
	fracF := func(used, limit float64) float64 {
		if limit == 0 {
			return 0
		}
		return used / limit
	}
	return Limits{
		TokenLimit:    frac(c.Usage.TokensUsed, c.Limits.TokenLimit),
		CostLimit:     fracF(c.Usage.CostUsed, c.Limits.CostLimit),
		ApiCallLimit:  frac(c.Usage.ApiCallsUsed, c.Limits.ApiCallLimit),
		TimeLimitSecs: frac(c.Usage.TimeElapsedS, c.Limits.TimeLimitSecs),
	}
}

// CreateChild spawns a child contract if requested fits within the
// parent's currently remaining budget on every axis. No budget is
// deducted from the parent on spawn: the parent's limits are the hard
// cap, and conservation is maintained by this ≤-check at every spawn
// point plus leaf-level accounting of actuals.
func (c *Contract) CreateChild(childID id.ContractId, agentID id.AgentId, taskID id.TaskId, requested Limits, now time.Time) (*Contract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != Active {
		return nil, kernelerr.ErrContractClosed
	}
	remaining := c.remainingLocked()
	if !requested.FitsWithin(remaining) {
		return nil, kernelerr.New(kernelerr.CodeContractViolation, "child limits exceed parent's remaining budget")
	}
	expiresAt := now.Add(time.Duration(requested.TimeLimitSecs) * time.Second)
	if expiresAt.After(c.ExpiresAt) {
		expiresAt = c.ExpiresAt
	}
	child := &Contract{
		ID:               childID,
		AgentID:          agentID,
		TaskID:           taskID,
		ParentContractID: c.ID,
		HasParent:        true,
		Limits:           requested,
		Status:           Active,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
	}
	c.ChildIDs = append(c.ChildIDs, childID)
	return child, nil
}

// Complete marks the contract Completed.
func (c *Contract) Complete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != Active {
		return kernelerr.ErrContractClosed
	}
	c.Status = Completed
	return nil
}

// Cancel marks the contract Cancelled regardless of current usage.
func (c *Contract) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != Active {
		return kernelerr.ErrContractClosed
	}
	c.Status = Cancelled
	return nil
}

// Snapshot returns a value copy safe to read without holding the lock.
func (c *Contract) Snapshot() Contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Contract{
		ID:               c.ID,
		AgentID:          c.AgentID,
		TaskID:           c.TaskID,
		ParentContractID: c.ParentContractID,
		HasParent:        c.HasParent,
		Limits:           c.Limits,
		Usage:            c.Usage,
		Status:           c.Status,
		CreatedAt:        c.CreatedAt,
		ExpiresAt:        c.ExpiresAt,
		ChildIDs:         append([]id.ContractId(nil), c.ChildIDs...),
	}
}
