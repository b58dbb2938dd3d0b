package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/agentkernel/internal/agent"
	"github.com/swarmguard/agentkernel/internal/breaker"
	"github.com/swarmguard/agentkernel/internal/broadcast"
	"github.com/swarmguard/agentkernel/internal/clock"
	"github.com/swarmguard/agentkernel/internal/contract"
	"github.com/swarmguard/agentkernel/internal/dag"
	"github.com/swarmguard/agentkernel/internal/eventlog"
	"github.com/swarmguard/agentkernel/internal/id"
	"github.com/swarmguard/agentkernel/internal/llm"
	"github.com/swarmguard/agentkernel/internal/router"
	"github.com/swarmguard/agentkernel/internal/telemetry"
	"github.com/swarmguard/agentkernel/internal/workerpool"
)

func newTestScheduler(t *testing.T, d *dag.DAG, invoker llm.Invoker, cfg Config) (*Scheduler, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	m := telemetry.Noop()
	root := contract.New(id.NewContractId(), id.NewAgentId(), id.TaskId{}, contract.ComplexLimits(), clk.Now())
	pool := workerpool.New(8, m)
	rt := router.New(router.DefaultCatalogue(), router.DefaultConfig())
	brs := breaker.NewRegistry(breaker.DefaultConfig(), clk, m)
	log := eventlog.New()
	bus := broadcast.New(broadcast.DefaultConfig(), clk, m)
	agents := agent.NewRegistry()
	return New(d, root, pool, rt, brs, invoker, log, bus, clk, m, cfg, agents), clk
}

func newTask(name string, priority int) *dag.Task {
	return &dag.Task{
		ID:         id.NewTaskId(),
		Name:       name,
		Priority:   priority,
		MaxRetries: 2,
		Input:      dag.Input{Instruction: "summarize this short note"},
		Status:     dag.Pending,
		CreatedAt:  time.Unix(0, 0),
	}
}

func TestSchedulerLinearChainCompletes(t *testing.T) {
	d := dag.New(id.NewDagId(), "linear", time.Unix(0, 0))
	a, b, c := newTask("a", 0), newTask("b", 0), newTask("c", 0)
	for _, tk := range []*dag.Task{a, b, c} {
		if err := d.AddTask(tk); err != nil {
			t.Fatalf("add task: %v", err)
		}
	}
	if err := d.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("add dep: %v", err)
	}
	if err := d.AddDependency(b.ID, c.ID); err != nil {
		t.Fatalf("add dep: %v", err)
	}

	invoker := &llm.StubInvoker{Result: llm.Result{Text: "ok", InputTokens: 10, OutputTokens: 10, Confidence: 0.95, HasConfidence: true}}
	s, _ := newTestScheduler(t, d, invoker, Config{RetryDelayMs: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}

	stats := d.Stats()
	if stats.Completed != 3 {
		t.Fatalf("expected 3 completed tasks, got stats %+v", stats)
	}
	if len(invoker.Calls) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(invoker.Calls))
	}
}

func TestSchedulerDiamondParallelism(t *testing.T) {
	d := dag.New(id.NewDagId(), "diamond", time.Unix(0, 0))
	top, left, right, bottom := newTask("top", 0), newTask("left", 0), newTask("right", 0), newTask("bottom", 0)
	for _, tk := range []*dag.Task{top, left, right, bottom} {
		if err := d.AddTask(tk); err != nil {
			t.Fatalf("add task: %v", err)
		}
	}
	for _, e := range [][2]id.TaskId{{top.ID, left.ID}, {top.ID, right.ID}, {left.ID, bottom.ID}, {right.ID, bottom.ID}} {
		if err := d.AddDependency(e[0], e[1]); err != nil {
			t.Fatalf("add dep: %v", err)
		}
	}

	invoker := &llm.StubInvoker{Result: llm.Result{Text: "ok", InputTokens: 5, OutputTokens: 5, Confidence: 0.95, HasConfidence: true}}
	s, _ := newTestScheduler(t, d, invoker, Config{RetryDelayMs: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
	if stats := d.Stats(); stats.Completed != 4 {
		t.Fatalf("expected 4 completed tasks, got %+v", stats)
	}
}

func TestSchedulerFailurePropagatesCascadeCancel(t *testing.T) {
	d := dag.New(id.NewDagId(), "cascade", time.Unix(0, 0))
	a, b, c := newTask("a", 0), newTask("b", 0), newTask("c", 0)
	a.MaxRetries = 0
	for _, tk := range []*dag.Task{a, b, c} {
		if err := d.AddTask(tk); err != nil {
			t.Fatalf("add task: %v", err)
		}
	}
	if err := d.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("add dep: %v", err)
	}
	if err := d.AddDependency(b.ID, c.ID); err != nil {
		t.Fatalf("add dep: %v", err)
	}

	invoker := &llm.StubInvoker{Err: errProviderDown{}}
	s, _ := newTestScheduler(t, d, invoker, Config{RetryDelayMs: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}

	stats := d.Stats()
	if stats.Failed != 1 || stats.Cancelled != 2 {
		t.Fatalf("expected 1 failed + 2 cancelled, got %+v", stats)
	}
}

func TestSchedulerRetriesTransientFailureThenSucceeds(t *testing.T) {
	d := dag.New(id.NewDagId(), "retry", time.Unix(0, 0))
	a := newTask("a", 0)
	a.MaxRetries = 2
	if err := d.AddTask(a); err != nil {
		t.Fatalf("add task: %v", err)
	}

	invoker := &llm.SequenceInvoker{
		Errs:    []error{errProviderDown{}},
		Results: []llm.Result{{}, {Text: "ok", InputTokens: 1, OutputTokens: 1, Confidence: 0.99, HasConfidence: true}},
	}
	s, _ := newTestScheduler(t, d, invoker, Config{RetryDelayMs: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
	if stats := d.Stats(); stats.Completed != 1 {
		t.Fatalf("expected task to eventually complete, got %+v", stats)
	}
}

func TestSchedulerAssignsAndReleasesAgent(t *testing.T) {
	d := dag.New(id.NewDagId(), "solo", time.Unix(0, 0))
	a := newTask("a", 0)
	if err := d.AddTask(a); err != nil {
		t.Fatalf("add task: %v", err)
	}

	invoker := &llm.StubInvoker{Result: llm.Result{Text: "ok", InputTokens: 4, OutputTokens: 4, Confidence: 0.95, HasConfidence: true}}
	s, _ := newTestScheduler(t, d, invoker, Config{RetryDelayMs: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}

	got, err := d.Task(a.ID)
	if err != nil {
		t.Fatalf("fetch task: %v", err)
	}
	if !got.HasAgent {
		t.Fatalf("expected task to have an assigned agent")
	}
	ag, ok := s.agents.Get(got.AgentID)
	if !ok {
		t.Fatalf("expected assigned agent to be registered")
	}
	if ag.Status != agent.Idle {
		t.Fatalf("expected agent to be released back to Idle, got %v", ag.Status)
	}
	if ag.TasksCompleted != 1 {
		t.Fatalf("expected agent to record 1 completed task, got %d", ag.TasksCompleted)
	}
}

type errProviderDown struct{}

func (errProviderDown) Error() string { return "provider unavailable" }
