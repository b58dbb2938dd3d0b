package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/agentkernel/internal/clock"
	"github.com/swarmguard/agentkernel/internal/config"
	"github.com/swarmguard/agentkernel/internal/dag"
	"github.com/swarmguard/agentkernel/internal/eventlog"
	"github.com/swarmguard/agentkernel/internal/id"
	"github.com/swarmguard/agentkernel/internal/llm"
	"github.com/swarmguard/agentkernel/internal/telemetry"

	"github.com/swarmguard/agentkernel/internal/broadcast"
)

func newTestOrchestrator(t *testing.T, invoker llm.Invoker) (*Orchestrator, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	m := telemetry.Noop()
	cfg := config.FromEnv()
	cfg.MaxConcurrentAgents = 8
	log := eventlog.New()
	bus := broadcast.New(broadcast.DefaultConfig(), clk, m)
	return New(cfg, invoker, clk, m, log, bus), clk
}

func TestSubmitTaskRunsToCompletion(t *testing.T) {
	invoker := &llm.StubInvoker{Result: llm.Result{Text: "ok", InputTokens: 5, OutputTokens: 5, Confidence: 0.95, HasConfidence: true}}
	o, _ := newTestOrchestrator(t, invoker)

	taskID, dagID, err := o.SubmitTask(context.Background(), "summarize", "summarize this short note", 0, nil)
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}
	if err := o.Wait(dagID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	task, err := o.GetTask(dagID, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != dag.Completed {
		t.Fatalf("expected task completed, got %v", task.Status)
	}

	proj, err := o.GetDag(dagID)
	if err != nil {
		t.Fatalf("get dag: %v", err)
	}
	if proj.Stats.Completed != 1 {
		t.Fatalf("expected dag stats to show 1 completed task, got %+v", proj.Stats)
	}

	agents := o.ListAgents()
	if len(agents) == 0 {
		t.Fatalf("expected at least one seeded agent")
	}
}

func TestSubmitDagWithDependenciesAndCancelDag(t *testing.T) {
	invoker := &llm.StubInvoker{Result: llm.Result{Text: "ok", InputTokens: 1, OutputTokens: 1, Confidence: 0.95, HasConfidence: true}}
	o, _ := newTestOrchestrator(t, invoker)

	dagID, err := o.SubmitDag(context.Background(), "pipeline", []TaskSpec{
		{Name: "fetch", Instruction: "summarize this short note"},
		{Name: "analyze", Instruction: "summarize this short note"},
	}, []DependencySpec{{From: "fetch", To: "analyze"}}, nil)
	if err != nil {
		t.Fatalf("submit dag: %v", err)
	}

	if err := o.CancelDag(dagID); err != nil {
		t.Fatalf("cancel dag: %v", err)
	}
	if err := o.Wait(dagID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	proj, err := o.GetDag(dagID)
	if err != nil {
		t.Fatalf("get dag: %v", err)
	}
	if proj.Stats.Cancelled == 0 {
		t.Fatalf("expected at least one cancelled task after cancel_dag, got %+v", proj.Stats)
	}
}

func TestCancelTaskCascadesToDependents(t *testing.T) {
	invoker := &llm.StubInvoker{Result: llm.Result{Text: "ok", InputTokens: 1, OutputTokens: 1, Confidence: 0.95, HasConfidence: true}}
	o, _ := newTestOrchestrator(t, invoker)

	dagID, err := o.SubmitDag(context.Background(), "chain", []TaskSpec{
		{Name: "a", Instruction: "summarize this short note"},
		{Name: "b", Instruction: "summarize this short note"},
	}, []DependencySpec{{From: "a", To: "b"}}, nil)
	if err != nil {
		t.Fatalf("submit dag: %v", err)
	}

	proj, err := o.GetDag(dagID)
	if err != nil {
		t.Fatalf("get dag: %v", err)
	}
	var bID id.TaskId
	for _, tk := range proj.Tasks {
		if tk.Name == "b" {
			bID = tk.ID
		}
	}

	// The scheduler's first dispatch tick only fires after its poll
	// interval or an explicit Wake; calling CancelTask immediately after
	// SubmitDag reliably observes "b" still Pending, blocked on "a".
	if err := o.CancelTask(dagID, bID); err != nil {
		t.Fatalf("cancel task: %v", err)
	}
	got, err := o.GetTask(dagID, bID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != dag.Cancelled {
		t.Fatalf("expected b cancelled, got %v", got.Status)
	}

	_ = o.CancelDag(dagID)
	_ = o.Wait(dagID)
}

func TestGetSystemStatsAggregatesAcrossDags(t *testing.T) {
	invoker := &llm.StubInvoker{Result: llm.Result{Text: "ok", InputTokens: 1, OutputTokens: 1, Confidence: 0.95, HasConfidence: true}}
	o, _ := newTestOrchestrator(t, invoker)

	_, dagID1, err := o.SubmitTask(context.Background(), "t1", "summarize this short note", 0, nil)
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	_, dagID2, err := o.SubmitTask(context.Background(), "t2", "summarize this short note", 0, nil)
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if err := o.Wait(dagID1); err != nil {
		t.Fatalf("wait 1: %v", err)
	}
	if err := o.Wait(dagID2); err != nil {
		t.Fatalf("wait 2: %v", err)
	}

	stats := o.GetSystemStats()
	if stats.TotalDags != 2 {
		t.Fatalf("expected 2 total dags, got %d", stats.TotalDags)
	}
	if stats.TasksCompleted != 2 {
		t.Fatalf("expected 2 completed tasks across dags, got %d", stats.TasksCompleted)
	}
	if stats.ActiveDags != 0 {
		t.Fatalf("expected 0 active dags once both completed, got %d", stats.ActiveDags)
	}
}
