package dag

import (
	"testing"
	"time"

	"github.com/swarmguard/agentkernel/internal/id"
)

func newTask(name string, priority int) *Task {
	return &Task{
		ID:         id.NewTaskId(),
		Name:       name,
		Priority:   priority,
		MaxRetries: 0,
		Status:     Pending,
		CreatedAt:  time.Now(),
	}
}

func TestAddTaskRejectsDuplicate(t *testing.T) {
	d := New(id.NewDagId(), "d", time.Now())
	task := newTask("A", 0)
	if err := d.AddTask(task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.AddTask(task); err == nil {
		t.Fatalf("expected DuplicateTaskId, got nil")
	}
}

func TestCycleRejection(t *testing.T) {
	d := New(id.NewDagId(), "d", time.Now())
	a, b, c := newTask("A", 0), newTask("B", 0), newTask("C", 0)
	for _, task := range []*Task{a, b, c} {
		if err := d.AddTask(task); err != nil {
			t.Fatalf("add task: %v", err)
		}
	}
	if err := d.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	if err := d.AddDependency(b.ID, c.ID); err != nil {
		t.Fatalf("B->C: %v", err)
	}
	if err := d.AddDependency(c.ID, a.ID); err == nil {
		t.Fatalf("expected CycleDetected for C->A")
	}
	// edge set must still contain exactly {A->B, B->C}
	order := d.TopologicalOrder()
	if len(order) != 3 {
		t.Fatalf("expected 3 tasks in topo order, got %d", len(order))
	}
}

func TestReadyFrontierLinearChain(t *testing.T) {
	d := New(id.NewDagId(), "d", time.Now())
	a, b, c := newTask("A", 0), newTask("B", 0), newTask("C", 0)
	for _, task := range []*Task{a, b, c} {
		_ = d.AddTask(task)
	}
	_ = d.AddDependency(a.ID, b.ID)
	_ = d.AddDependency(b.ID, c.ID)

	frontier := d.ReadyFrontier()
	if len(frontier) != 1 || frontier[0] != a.ID {
		t.Fatalf("expected only A ready, got %v", frontier)
	}

	now := time.Now()
	_ = d.UpdateStatus(a.ID, Ready, now)
	_ = d.UpdateStatus(a.ID, Running, now)
	_ = d.UpdateStatus(a.ID, Completed, now)

	frontier = d.ReadyFrontier()
	if len(frontier) != 1 || frontier[0] != b.ID {
		t.Fatalf("expected only B ready, got %v", frontier)
	}
}

func TestDiamondParallelism(t *testing.T) {
	d := New(id.NewDagId(), "d", time.Now())
	a, b, c, dd := newTask("A", 0), newTask("B", 0), newTask("C", 0), newTask("D", 0)
	for _, task := range []*Task{a, b, c, dd} {
		_ = d.AddTask(task)
	}
	_ = d.AddDependency(a.ID, b.ID)
	_ = d.AddDependency(a.ID, c.ID)
	_ = d.AddDependency(b.ID, dd.ID)
	_ = d.AddDependency(c.ID, dd.ID)

	now := time.Now()
	_ = d.UpdateStatus(a.ID, Ready, now)
	_ = d.UpdateStatus(a.ID, Running, now)
	_ = d.UpdateStatus(a.ID, Completed, now)

	frontier := d.ReadyFrontier()
	if len(frontier) != 2 {
		t.Fatalf("expected B and C ready, got %v", frontier)
	}
}

func TestStatusMonotonicity(t *testing.T) {
	d := New(id.NewDagId(), "d", time.Now())
	a := newTask("A", 0)
	_ = d.AddTask(a)
	now := time.Now()
	_ = d.UpdateStatus(a.ID, Ready, now)
	_ = d.UpdateStatus(a.ID, Running, now)
	_ = d.UpdateStatus(a.ID, Completed, now)
	if err := d.UpdateStatus(a.ID, Running, now); err == nil {
		t.Fatalf("expected terminal task to reject further transitions")
	}
}

func TestCancelDependentsIdempotent(t *testing.T) {
	d := New(id.NewDagId(), "d", time.Now())
	a, b, c := newTask("A", 0), newTask("B", 0), newTask("C", 0)
	for _, task := range []*Task{a, b, c} {
		_ = d.AddTask(task)
	}
	_ = d.AddDependency(a.ID, b.ID)
	_ = d.AddDependency(b.ID, c.ID)

	now := time.Now()
	cancelled, err := d.CancelDependents(a.ID, now)
	if err != nil {
		t.Fatalf("cancel dependents: %v", err)
	}
	if len(cancelled) != 2 {
		t.Fatalf("expected B and C cancelled, got %v", cancelled)
	}
	again, err := d.CancelDependents(a.ID, now)
	if err != nil {
		t.Fatalf("second cancel dependents: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty set on second call, got %v", again)
	}
}

func TestTopologicalOrderTieBreak(t *testing.T) {
	d := New(id.NewDagId(), "d", time.Now())
	a := newTask("A", 5)
	b := newTask("B", 10)
	c := newTask("C", 10)
	_ = d.AddTask(a)
	_ = d.AddTask(b)
	_ = d.AddTask(c)

	order := d.TopologicalOrder()
	// b and c have no deps and equal priority 10 > a's 5; insertion order
	// (b before c) breaks the tie, and a (lower priority) comes last.
	if len(order) != 3 || order[0] != b.ID || order[1] != c.ID || order[2] != a.ID {
		t.Fatalf("unexpected order: %v", order)
	}
}
