package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swarmguard/agentkernel/internal/llm"
)

type fakeSnapshot struct {
	mu      sync.Mutex
	payload map[string][]byte
}

func newFakeSnapshot() *fakeSnapshot { return &fakeSnapshot{payload: make(map[string][]byte)} }

func (f *fakeSnapshot) Save(dagID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload[dagID] = payload
	return nil
}

func (f *fakeSnapshot) Load(dagID string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payload[dagID]
	return p, ok, nil
}

func (f *fakeSnapshot) has(dagID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.payload[dagID]
	return ok
}

func (f *fakeSnapshot) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payload)
}

func TestSnapshotSchedulerSweepsOnlyActiveDags(t *testing.T) {
	invoker := &llm.StubInvoker{Result: llm.Result{Text: "ok", InputTokens: 1, OutputTokens: 1, Confidence: 0.95, HasConfidence: true}}
	o, _ := newTestOrchestrator(t, invoker)

	_, completedDagID, err := o.SubmitTask(context.Background(), "done", "summarize this short note", 0, nil)
	if err != nil {
		t.Fatalf("submit completed: %v", err)
	}
	if err := o.Wait(completedDagID); err != nil {
		t.Fatalf("wait completed: %v", err)
	}

	blocked := &llm.StubInvoker{Err: errSweepNeverResolves}
	o2, _ := newTestOrchestrator(t, blocked)
	activeDagID, err := o2.SubmitDag(context.Background(), "active", []TaskSpec{
		{Name: "stuck", Instruction: "summarize this short note", MaxRetries: 100},
	}, nil, nil)
	if err != nil {
		t.Fatalf("submit active: %v", err)
	}

	snap := newFakeSnapshot()
	sched, err := NewSnapshotScheduler(o, snap, "@every 1h")
	if err != nil {
		t.Fatalf("new snapshot scheduler: %v", err)
	}
	sched.sweep()
	if snap.count() != 0 {
		t.Fatalf("expected no snapshots for an orchestrator with only completed dags, got %d", snap.count())
	}

	snap2 := newFakeSnapshot()
	sched2, err := NewSnapshotScheduler(o2, snap2, "@every 1h")
	if err != nil {
		t.Fatalf("new snapshot scheduler 2: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	sched2.sweep()
	if !snap2.has(activeDagID.String()) {
		t.Fatalf("expected a snapshot for the still-active dag")
	}
	runs, fails := sched2.Stats()
	if runs != 1 || fails != 0 {
		t.Fatalf("expected 1 run, 0 fails, got runs=%d fails=%d", runs, fails)
	}

	_ = o2.CancelDag(activeDagID)
	_ = o2.Wait(activeDagID)
}

var errSweepNeverResolves = &stubErr{"provider unreachable"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }
