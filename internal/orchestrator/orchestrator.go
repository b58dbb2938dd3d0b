// Package orchestrator is the facade the HTTP layer drives: it owns the
// DAG registry and every DAG's root resource contract, starts one
// scheduler goroutine per active DAG, and exposes the submission
// operations (submit_task, submit_dag, get_task, get_dag, cancel_task,
// cancel_dag, list_agents, get_system_stats).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swarmguard/agentkernel/internal/agent"
	"github.com/swarmguard/agentkernel/internal/breaker"
	"github.com/swarmguard/agentkernel/internal/broadcast"
	"github.com/swarmguard/agentkernel/internal/clock"
	"github.com/swarmguard/agentkernel/internal/config"
	"github.com/swarmguard/agentkernel/internal/contract"
	"github.com/swarmguard/agentkernel/internal/dag"
	"github.com/swarmguard/agentkernel/internal/eventlog"
	"github.com/swarmguard/agentkernel/internal/id"
	"github.com/swarmguard/agentkernel/internal/kernelerr"
	"github.com/swarmguard/agentkernel/internal/llm"
	"github.com/swarmguard/agentkernel/internal/router"
	"github.com/swarmguard/agentkernel/internal/scheduler"
	"github.com/swarmguard/agentkernel/internal/telemetry"
	"github.com/swarmguard/agentkernel/internal/workerpool"
)

// dagEntry bundles everything the facade tracks for one active or
// completed DAG.
type dagEntry struct {
	d            *dag.DAG
	rootContract *contract.Contract
	sched        *scheduler.Scheduler
	cancelRun    context.CancelFunc
	done         chan struct{}
}

// Orchestrator is the single facade the driving process talks to. It is
// safe for concurrent use.
type Orchestrator struct {
	mu   sync.RWMutex
	dags map[id.DagId]*dagEntry

	pool     *workerpool.Pool
	router   *router.Router
	breakers *breaker.Registry
	agents   *agent.Registry
	invoker  llm.Invoker
	log      *eventlog.Log
	bus      *broadcast.Broadcaster
	clk      clock.Clock
	m        telemetry.Metrics
	cfg      config.Config
}

// New wires every shared kernel component from cfg and starts with an
// empty DAG registry. log and bus are accepted rather than constructed
// internally so cmd/orchestratord can attach a durable Sink / subscribe
// for external forwarding before any DAG is submitted.
func New(cfg config.Config, invoker llm.Invoker, clk clock.Clock, m telemetry.Metrics, log *eventlog.Log, bus *broadcast.Broadcaster) *Orchestrator {
	rt := router.New(router.DefaultCatalogue(), router.Config{
		EnableCascade:     cfg.EnableModelRouting,
		EconomyThreshold:  cfg.EconomyThreshold,
		StandardThreshold: cfg.StandardThreshold,
		MaxEscalations:    cfg.MaxEscalations,
	})
	agents := agent.NewRegistry()
	agents.Seed(rt.ModelNames())

	return &Orchestrator{
		dags:     make(map[id.DagId]*dagEntry),
		pool:     workerpool.New(cfg.MaxConcurrentAgents, m),
		router:   rt,
		breakers: breaker.NewRegistry(breaker.Config{FailureThreshold: cfg.CircuitBreakerThreshold, RecoveryTimeout: time.Duration(cfg.CircuitBreakerRecoverySecs) * time.Second}, clk, m),
		agents:   agents,
		invoker:  invoker,
		log:      log,
		bus:      bus,
		clk:      clk,
		m:        m,
		cfg:      cfg,
	}
}

// Log exposes the shared event log, for cmd/orchestratord to attach a
// durable sink or for eventbridge to tail.
func (o *Orchestrator) Log() *eventlog.Log { return o.log }

// Bus exposes the shared broadcaster, for the HTTP layer's subscription
// endpoints.
func (o *Orchestrator) Bus() *broadcast.Broadcaster { return o.bus }

func (o *Orchestrator) defaultLimits() contract.Limits {
	return contract.Limits{
		TokenLimit:    o.cfg.DefaultTokenLimit,
		CostLimit:     o.cfg.DefaultCostLimit,
		ApiCallLimit:  o.cfg.DefaultApiCallLimit,
		TimeLimitSecs: o.cfg.DefaultTimeLimitSeconds,
	}
}

// TaskSpec describes one task within a submit_dag call.
type TaskSpec struct {
	Name        string
	Instruction string
	Priority    int
	MaxRetries  int
}

// DependencySpec is a from->to edge within a submit_dag call.
type DependencySpec struct {
	From string
	To   string
}

// SubmitTask creates a singleton DAG containing exactly one task and
// starts its scheduler.
func (o *Orchestrator) SubmitTask(ctx context.Context, name, instruction string, priority int, limits *contract.Limits) (id.TaskId, id.DagId, error) {
	dagID, err := o.SubmitDag(ctx, name, []TaskSpec{{Name: name, Instruction: instruction, Priority: priority}}, nil, limits)
	if err != nil {
		return id.TaskId{}, id.DagId{}, err
	}
	o.mu.RLock()
	entry := o.dags[dagID]
	o.mu.RUnlock()
	ids := entry.d.TaskIDs()
	if len(ids) != 1 {
		return id.TaskId{}, dagID, kernelerr.New(kernelerr.CodeUnknownTask, "singleton dag did not produce exactly one task")
	}
	return ids[0], dagID, nil
}

// SubmitDag builds a DAG from tasks/dependencies, allocates its root
// contract, and starts a scheduler goroutine for it. Task names must be
// unique within the call; dependencies reference tasks by name.
func (o *Orchestrator) SubmitDag(ctx context.Context, name string, tasks []TaskSpec, deps []DependencySpec, limits *contract.Limits) (id.DagId, error) {
	now := o.clk.Now()
	dagID := id.NewDagId()
	d := dag.New(dagID, name, now)

	byName := make(map[string]id.TaskId, len(tasks))
	for _, ts := range tasks {
		maxRetries := ts.MaxRetries
		t := &dag.Task{
			ID:         id.NewTaskId(),
			Name:       ts.Name,
			Priority:   ts.Priority,
			MaxRetries: maxRetries,
			Input:      dag.Input{Instruction: ts.Instruction},
			Status:     dag.Pending,
			CreatedAt:  now,
		}
		if err := d.AddTask(t); err != nil {
			return id.DagId{}, err
		}
		byName[ts.Name] = t.ID
		o.log.Append(eventlog.Event{Kind: eventlog.TaskCreated, DagID: dagID, TaskID: t.ID, OccurredAt: now}, "orchestrator", dagID.String(), "")
	}
	for _, e := range deps {
		from, ok := byName[e.From]
		if !ok {
			return id.DagId{}, kernelerr.Newf(kernelerr.CodeUnknownTask, "dependency references unknown task %q", e.From)
		}
		to, ok := byName[e.To]
		if !ok {
			return id.DagId{}, kernelerr.Newf(kernelerr.CodeUnknownTask, "dependency references unknown task %q", e.To)
		}
		if err := d.AddDependency(from, to); err != nil {
			return id.DagId{}, err
		}
	}

	effectiveLimits := o.defaultLimits()
	if limits != nil {
		effectiveLimits = *limits
	}
	root := contract.New(id.NewContractId(), id.AgentId{}, id.TaskId{}, effectiveLimits, now)

	sched := scheduler.New(d, root, o.pool, o.router, o.breakers, o.invoker, o.log, o.bus, o.clk, o.m, scheduler.Config{
		RetryDelayMs: o.cfg.RetryDelayMs,
		PollInterval: 500 * time.Millisecond,
	}, o.agents)

	runCtx, cancel := context.WithCancel(ctx)
	entry := &dagEntry{d: d, rootContract: root, sched: sched, cancelRun: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.dags[dagID] = entry
	o.mu.Unlock()

	go func() {
		defer close(entry.done)
		_ = sched.Run(runCtx)
	}()

	return dagID, nil
}

func (o *Orchestrator) entry(dagID id.DagId) (*dagEntry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.dags[dagID]
	if !ok {
		return nil, kernelerr.New(kernelerr.CodeUnknownTask, fmt.Sprintf("unknown dag %s", dagID))
	}
	return e, nil
}

// GetTask returns a single task's current projection.
func (o *Orchestrator) GetTask(dagID id.DagId, taskID id.TaskId) (dag.Task, error) {
	e, err := o.entry(dagID)
	if err != nil {
		return dag.Task{}, err
	}
	return e.d.Task(taskID)
}

// DagProjection is the get_dag response shape: the DAG's stats plus every
// task's current state.
type DagProjection struct {
	ID    id.DagId
	Stats dag.Stats
	Tasks []dag.Task
}

// GetDag returns the DAG's stats and every task's current projection.
func (o *Orchestrator) GetDag(dagID id.DagId) (DagProjection, error) {
	e, err := o.entry(dagID)
	if err != nil {
		return DagProjection{}, err
	}
	ids := e.d.TaskIDs()
	tasks := make([]dag.Task, 0, len(ids))
	for _, tid := range ids {
		if t, terr := e.d.Task(tid); terr == nil {
			tasks = append(tasks, t)
		}
	}
	return DagProjection{ID: dagID, Stats: e.d.Stats(), Tasks: tasks}, nil
}

// CancelTask cancels a single non-terminal task and cascades cancellation
// to its dependents, without touching the rest of the DAG.
func (o *Orchestrator) CancelTask(dagID id.DagId, taskID id.TaskId) error {
	e, err := o.entry(dagID)
	if err != nil {
		return err
	}
	now := o.clk.Now()
	if err := e.d.UpdateStatus(taskID, dag.Cancelled, now); err != nil {
		return err
	}
	o.log.Append(eventlog.Event{Kind: eventlog.TaskCancelled, DagID: dagID, TaskID: taskID, OccurredAt: now}, "orchestrator", dagID.String(), "")
	o.bus.Publish(broadcast.TaskTopic(taskID), "TaskCancelled")

	cancelled, _ := e.d.CancelDependents(taskID, now)
	for _, c := range cancelled {
		o.log.Append(eventlog.Event{Kind: eventlog.CancelCascade, DagID: dagID, TaskID: c, OccurredAt: now}, "orchestrator", dagID.String(), "")
		o.bus.Publish(broadcast.TaskTopic(c), "CancelCascade")
	}
	e.sched.Wake()
	return nil
}

// CancelDag cancels every non-terminal task in the DAG and stops its
// scheduler loop.
func (o *Orchestrator) CancelDag(dagID id.DagId) error {
	e, err := o.entry(dagID)
	if err != nil {
		return err
	}
	e.sched.CancelDag(e.cancelRun)
	return nil
}

// ListAgents returns a snapshot of every known agent.
func (o *Orchestrator) ListAgents() []agent.Agent {
	return o.agents.List()
}

// SystemStats summarizes cross-DAG state for get_system_stats.
type SystemStats struct {
	ActiveDags     int
	TotalDags      int
	TasksCompleted int
	TasksFailed    int
	TasksCancelled int
	PoolStats      workerpool.Stats
	BroadcastStats broadcast.Stats
}

// GetSystemStats aggregates stats across every tracked DAG plus the
// shared worker pool and broadcaster.
func (o *Orchestrator) GetSystemStats() SystemStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	stats := SystemStats{
		TotalDags:      len(o.dags),
		PoolStats:      o.pool.Stats(),
		BroadcastStats: o.bus.Stats(),
	}
	for _, e := range o.dags {
		s := e.d.Stats()
		stats.TasksCompleted += s.Completed
		stats.TasksFailed += s.Failed
		stats.TasksCancelled += s.Cancelled
		if !e.d.IsTerminal() {
			stats.ActiveDags++
		}
	}
	return stats
}

// Wait blocks until dagID's scheduler loop has exited, for tests and for
// graceful shutdown draining.
func (o *Orchestrator) Wait(dagID id.DagId) error {
	e, err := o.entry(dagID)
	if err != nil {
		return err
	}
	<-e.done
	return nil
}

// Shutdown cancels every active DAG's scheduler loop and waits for each to
// exit.
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	entries := make([]*dagEntry, 0, len(o.dags))
	for _, e := range o.dags {
		entries = append(entries, e)
	}
	o.mu.RUnlock()

	for _, e := range entries {
		e.sched.CancelDag(e.cancelRun)
	}
	for _, e := range entries {
		<-e.done
	}
	o.pool.Shutdown()
}
