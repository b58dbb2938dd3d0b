// Package scheduler implements the task dispatch loop: readiness frontier
// polling, worker-permit acquisition, router/breaker consultation, LLM
// invocation with cascade escalation, and contract/DAG/event-log/
// broadcaster updates on completion.
//
// The coordinator-goroutine-plus-worker-pool shape follows a plain Kahn
// in-degree countdown executor; the dispatch algorithm itself (readiness
// frontier, router/breaker consultation, tier escalation, budget-aware
// retries) adds routing and budget awareness that a bare topological
// executor doesn't need.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swarmguard/agentkernel/internal/agent"
	"github.com/swarmguard/agentkernel/internal/breaker"
	"github.com/swarmguard/agentkernel/internal/broadcast"
	"github.com/swarmguard/agentkernel/internal/clock"
	"github.com/swarmguard/agentkernel/internal/contract"
	"github.com/swarmguard/agentkernel/internal/dag"
	"github.com/swarmguard/agentkernel/internal/eventlog"
	"github.com/swarmguard/agentkernel/internal/id"
	"github.com/swarmguard/agentkernel/internal/kernelerr"
	"github.com/swarmguard/agentkernel/internal/llm"
	"github.com/swarmguard/agentkernel/internal/router"
	"github.com/swarmguard/agentkernel/internal/telemetry"
	"github.com/swarmguard/agentkernel/internal/workerpool"
)

// Config tunes the scheduler's dispatch behaviour.
type Config struct {
	RetryDelayMs int
	PollInterval time.Duration // safety poll in case a wake is dropped
}

func DefaultConfig() Config {
	return Config{RetryDelayMs: 1000, PollInterval: 500 * time.Millisecond}
}

// Scheduler drives a single DAG to completion.
type Scheduler struct {
	dag          *dag.DAG
	pool         *workerpool.Pool
	router       *router.Router
	breakers     *breaker.Registry
	invoker      llm.Invoker
	log          *eventlog.Log
	bus          *broadcast.Broadcaster
	clk          clock.Clock
	m            telemetry.Metrics
	cfg          Config
	rootContract *contract.Contract
	agents       *agent.Registry

	wake      chan struct{}
	cancelled atomic.Bool

	mu            sync.Mutex
	taskContracts map[id.TaskId]*contract.Contract
	inFlight      int
}

// New constructs a Scheduler bound to a single DAG and its root budget
// contract (created by the orchestrator facade at submission time). agents
// is shared across every DAG's scheduler since the agent pool is a
// system-wide resource, not a per-DAG one; it may be nil, in which case
// tasks run without ever acquiring a named agent slot.
func New(
	d *dag.DAG,
	root *contract.Contract,
	pool *workerpool.Pool,
	rt *router.Router,
	breakers *breaker.Registry,
	invoker llm.Invoker,
	log *eventlog.Log,
	bus *broadcast.Broadcaster,
	clk clock.Clock,
	m telemetry.Metrics,
	cfg Config,
	agents *agent.Registry,
) *Scheduler {
	return &Scheduler{
		dag: d, pool: pool, router: rt, breakers: breakers, invoker: invoker,
		log: log, bus: bus, clk: clk, m: m, cfg: cfg, rootContract: root, agents: agents,
		wake:          make(chan struct{}, 1),
		taskContracts: make(map[id.TaskId]*contract.Contract),
	}
}

// Wake signals the scheduler loop to re-evaluate the readiness frontier.
// Non-blocking: a pending wake coalesces with one already queued.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// CancelDag transitions every non-terminal task to Cancelled and stops
// dispatching new work. In-flight invocations observe ctx cancellation at
// their next suspension point.
func (s *Scheduler) CancelDag(cancelRunning context.CancelFunc) {
	s.cancelled.Store(true)
	now := s.clk.Now()
	s.dag.CancelAll(now)
	if cancelRunning != nil {
		cancelRunning()
	}
	if s.m.Cancellations != nil {
		s.m.Cancellations.Add(context.Background(), 1)
	}
	s.Wake()
}

// Run drives the scheduling loop until the DAG reaches a terminal state
// or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	poll := s.cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-time.After(poll):
		}

		if s.cancelled.Load() {
			if s.noneInFlight() {
				return nil
			}
			continue
		}

		s.dispatchTick(ctx)

		if s.dag.IsTerminal() && s.noneInFlight() {
			s.emit(eventlog.Event{Kind: eventlog.DagCompleted, DagID: s.dag.ID, OccurredAt: s.clk.Now()})
			s.bus.Publish(broadcast.DagTopic(s.dag.ID), "DagCompleted")
			return nil
		}
	}
}

func (s *Scheduler) noneInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight == 0
}

func (s *Scheduler) dispatchTick(ctx context.Context) {
	frontier := s.dag.ReadyFrontier()
	if len(frontier) == 0 {
		return
	}
	tasks := make([]dag.Task, 0, len(frontier))
	for _, tid := range frontier {
		t, err := s.dag.Task(tid)
		if err == nil {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	if s.m.ScheduleRuns != nil {
		s.m.ScheduleRuns.Add(context.Background(), 1)
	}

	for _, t := range tasks {
		permit, ok := s.pool.TryAcquire()
		if !ok {
			return // no capacity this tick; remaining tasks wait for the next wake
		}
		now := s.clk.Now()
		if err := s.dag.UpdateStatus(t.ID, dag.Ready, now); err != nil {
			permit.Release()
			continue
		}
		s.emit(eventlog.Event{Kind: eventlog.TaskReady, DagID: s.dag.ID, TaskID: t.ID, OccurredAt: now})
		s.bus.Publish(broadcast.TaskTopic(t.ID), "TaskReady")
		if err := s.dag.UpdateStatus(t.ID, dag.Running, now); err != nil {
			permit.Release()
			continue
		}
		s.emit(eventlog.Event{Kind: eventlog.TaskStarted, DagID: s.dag.ID, TaskID: t.ID, OccurredAt: now})
		s.bus.Publish(broadcast.TaskTopic(t.ID), "TaskRunning")

		s.mu.Lock()
		s.inFlight++
		s.mu.Unlock()

		go s.runTask(ctx, t, permit)
	}
}

// taskContractFor lazily creates the per-task child contract under the
// DAG's root contract, sized from a tenth of the root's own limits. The
// exact sizing formula isn't mandated anywhere beyond the conservation
// check CreateChild performs at spawn time; this default just needs to
// leave enough headroom for the DAG's other tasks to also fit.
func (s *Scheduler) taskContractFor(t dag.Task, now time.Time) (*contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.taskContracts[t.ID]; ok {
		return c, nil
	}
	requested := s.rootContract.Limits.Overhead()
	if requested.TokenLimit == 0 {
		requested = s.rootContract.Limits
	}
	child, err := s.rootContract.CreateChild(id.NewContractId(), id.AgentId{}, t.ID, requested, now)
	if err != nil {
		return nil, err
	}
	s.taskContracts[t.ID] = child
	return child, nil
}

func (s *Scheduler) runTask(ctx context.Context, t dag.Task, permit *workerpool.Permit) {
	defer func() {
		permit.Release()
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		s.Wake()
	}()

	start := s.clk.Now()
	taskContract, err := s.taskContractFor(t, start)
	if err != nil {
		s.failTask(t.ID, kernelerr.CodeContractExceeded, "failed to allocate task contract: "+err.Error())
		return
	}

	model, ok := s.router.SelectModel(t.Input.Instruction)
	tier := model.Tier
	escalations := 0
	agentAnnounced := false

	for {
		if ctx.Err() != nil {
			s.failTask(t.ID, kernelerr.CodeShutdown, "cancelled")
			return
		}
		if !ok {
			s.failTask(t.ID, kernelerr.CodeNoAvailableTier, "no model available for tier")
			return
		}
		now := s.clk.Now()
		if now.After(taskContract.ExpiresAt) {
			s.failTask(t.ID, kernelerr.CodeTimeLimitExceeded, "contract expired before dispatch")
			return
		}

		br := s.breakers.For(model.ProviderID)
		if !br.Allow() {
			next, hasNext := s.router.EscalateTier(tier)
			if !hasNext || escalations >= s.router.MaxEscalations() {
				s.failTask(t.ID, kernelerr.CodeCircuitOpen, "circuit open and no escalation tier remains")
				return
			}
			tier = next
			escalations++
			model, ok = s.router.SelectModelForTier(tier)
			continue
		}

		var ag *agent.Agent
		if s.agents != nil {
			ag = s.agents.Acquire(model.Name, now)
			if !agentAnnounced {
				_ = s.dag.MutateTask(t.ID, func(mt *dag.Task) { mt.AgentID = ag.ID; mt.HasAgent = true })
				s.emit(eventlog.Event{Kind: eventlog.AgentSpawned, DagID: s.dag.ID, TaskID: t.ID, AgentID: ag.ID, Message: model.Name, OccurredAt: now})
				agentAnnounced = true
			}
		}

		result, invokeErr := s.invoker.Invoke(ctx, llm.Request{Model: model.Name, Prompt: t.Input.Instruction, Context: t.Input.Context})
		if err := taskContract.RecordAPICall(s.clk.Now()); err != nil {
			s.emitBreakerTransition(br.RecordResult(false), model.ProviderID, t.ID)
			if ag != nil {
				s.agents.Release(ag.ID, false, 0, 0, s.clk.Now())
			}
			s.failTask(t.ID, kernelerr.CodeApiCallLimitExceeded, "api call limit exceeded")
			return
		}

		if invokeErr != nil {
			s.emitBreakerTransition(br.RecordResult(false), model.ProviderID, t.ID)
			if ag != nil {
				s.agents.Release(ag.ID, false, 0, 0, s.clk.Now())
			}
			if s.m.TaskRetries != nil {
				s.m.TaskRetries.Add(context.Background(), 1)
			}
			if t.ShouldRetry() {
				s.retryAfterBackoff(t.ID, t.RetryCount)
				return
			}
			s.failTask(t.ID, kernelerr.CodeProviderTransient, "provider error: "+invokeErr.Error())
			return
		}
		s.emitBreakerTransition(br.RecordResult(true), model.ProviderID, t.ID)

		cost := s.router.EstimateCost(model.Name, result.InputTokens, result.OutputTokens)
		if result.HasDollars {
			cost = result.Dollars
		}
		if ag != nil {
			s.agents.Release(ag.ID, true, uint64(result.InputTokens+result.OutputTokens), cost, s.clk.Now())
		}
		if err := taskContract.RecordTokens(uint64(result.InputTokens+result.OutputTokens), s.clk.Now()); err != nil {
			s.failTask(t.ID, kernelerr.CodeTokenLimitExceeded, "token limit exceeded")
			return
		}
		if err := taskContract.RecordCost(cost, s.clk.Now()); err != nil {
			s.failTask(t.ID, kernelerr.CodeCostLimitExceeded, "cost limit exceeded")
			return
		}

		confidence := result.Confidence
		if !result.HasConfidence {
			confidence = 1.0
		}
		if s.router.ShouldEscalate(confidence, tier) && escalations < s.router.MaxEscalations() {
			next, hasNext := s.router.EscalateTier(tier)
			if hasNext {
				tier = next
				escalations++
				model, ok = s.router.SelectModelForTier(tier)
				continue
			}
		}

		s.completeTask(t.ID, taskContract, result, cost, start)
		return
	}
}

// emitBreakerTransition records a breaker state change as a domain event,
// since Breaker itself has no DagID/TaskID to attach and only bumps its
// own OTel counter internally.
func (s *Scheduler) emitBreakerTransition(trans breaker.Transition, providerID string, tid id.TaskId) {
	now := s.clk.Now()
	switch trans {
	case breaker.TransitionedToOpen:
		s.emit(eventlog.Event{Kind: eventlog.CircuitBreakerTripped, DagID: s.dag.ID, TaskID: tid, Code: providerID, OccurredAt: now})
		s.bus.Publish(broadcast.TaskTopic(tid), "CircuitBreakerTripped")
	case breaker.TransitionedToClosed:
		s.emit(eventlog.Event{Kind: eventlog.CircuitBreakerClosed, DagID: s.dag.ID, TaskID: tid, Code: providerID, OccurredAt: now})
		s.bus.Publish(broadcast.TaskTopic(tid), "CircuitBreakerClosed")
	}
}

func (s *Scheduler) retryAfterBackoff(tid id.TaskId, attempt int) {
	delay := backoffDelay(s.cfg.RetryDelayMs, attempt)
	if err := s.dag.UpdateStatus(tid, dag.Failed, s.clk.Now()); err != nil {
		return
	}
	if err := s.dag.PrepareRetry(tid); err != nil {
		return
	}
	time.AfterFunc(delay, s.Wake)
}

func (s *Scheduler) completeTask(tid id.TaskId, c *contract.Contract, result llm.Result, cost float64, start time.Time) {
	now := s.clk.Now()
	tokens := uint64(result.InputTokens + result.OutputTokens)
	_ = s.dag.MutateTask(tid, func(t *dag.Task) {
		t.TokensUsed += tokens
		t.CostUsed += cost
		t.Output.Result = result.Text
		t.Output.Reasoning = result.Reasoning
		t.Output.Data = result.Data
	})
	if err := s.dag.UpdateStatus(tid, dag.Completed, now); err != nil {
		slog.Warn("unexpected transition failure on task completion", "task", tid.String(), "error", err)
		return
	}
	_ = c.Complete()
	if s.m.TaskDuration != nil {
		s.m.TaskDuration.Record(context.Background(), now.Sub(start).Seconds())
	}
	s.emit(eventlog.Event{Kind: eventlog.TaskCompleted, DagID: s.dag.ID, TaskID: tid, Tokens: tokens, Cost: cost, OccurredAt: now})
	s.bus.Publish(broadcast.TaskTopic(tid), "TaskCompleted")
	s.Wake()
}

func (s *Scheduler) failTask(tid id.TaskId, code kernelerr.Code, message string) {
	now := s.clk.Now()
	if err := s.dag.UpdateStatus(tid, dag.Failed, now); err != nil {
		return
	}
	_ = s.dag.MutateTask(tid, func(t *dag.Task) { t.LastError = message })
	if s.m.TaskFailures != nil {
		s.m.TaskFailures.Add(context.Background(), 1)
	}
	if code == kernelerr.CodeContractExceeded || code == kernelerr.CodeTokenLimitExceeded ||
		code == kernelerr.CodeCostLimitExceeded || code == kernelerr.CodeApiCallLimitExceeded {
		if s.m.ContractViolations != nil {
			s.m.ContractViolations.Add(context.Background(), 1)
		}
		s.emit(eventlog.Event{Kind: eventlog.ContractExceeded, DagID: s.dag.ID, TaskID: tid, Code: string(code), Message: message, OccurredAt: now})
	}
	s.emit(eventlog.Event{Kind: eventlog.TaskFailed, DagID: s.dag.ID, TaskID: tid, Code: string(code), Message: message, OccurredAt: now})
	s.bus.Publish(broadcast.TaskTopic(tid), "TaskFailed")

	cancelled, _ := s.dag.CancelDependents(tid, now)
	for _, c := range cancelled {
		s.emit(eventlog.Event{Kind: eventlog.CancelCascade, DagID: s.dag.ID, TaskID: c, OccurredAt: now})
		s.bus.Publish(broadcast.TaskTopic(c), "CancelCascade")
	}
}

func (s *Scheduler) emit(e eventlog.Event) {
	_, err := s.log.Append(e, "scheduler", s.dag.ID.String(), "")
	if err != nil {
		slog.Warn("event sink append failed", "error", err)
	}
}
