// Package dag implements the typed task graph: acyclic guarantee, status
// machine, readiness frontier, and cascade-cancel. It deliberately avoids
// a general-purpose graph library: the graph here is small,
// task-status-aware, and the operations the
// kernel needs (cycle pre-check, topo sort with tie-break, readiness,
// dependent cancellation) are simpler to hand-roll over adjacency maps
// than to bolt onto a generic graph type.
package dag

import (
	"sort"
	"sync"
	"time"

	"github.com/swarmguard/agentkernel/internal/id"
	"github.com/swarmguard/agentkernel/internal/kernelerr"
)

// Stats summarizes task counts by status.
type Stats struct {
	Total     int
	Pending   int
	Ready     int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// DAG is a single task graph, exclusively owned by the orchestrator.
// Mutations go through a single short-held mutex rather than per-field
// locking, since callers need consistent multi-field reads (status plus
// timestamps plus edges) far more often than high write concurrency.
type DAG struct {
	mu sync.RWMutex

	ID        id.DagId
	Name      string
	CreatedAt time.Time

	tasks   map[id.TaskId]*Task
	order   []id.TaskId // insertion order, for deterministic iteration and tie-break
	seq     map[id.TaskId]int
	outEdge map[id.TaskId]map[id.TaskId]bool
	inEdge  map[id.TaskId]map[id.TaskId]bool
}

// New creates an empty DAG.
func New(dagID id.DagId, name string, now time.Time) *DAG {
	return &DAG{
		ID:        dagID,
		Name:      name,
		CreatedAt: now,
		tasks:     make(map[id.TaskId]*Task),
		seq:       make(map[id.TaskId]int),
		outEdge:   make(map[id.TaskId]map[id.TaskId]bool),
		inEdge:    make(map[id.TaskId]map[id.TaskId]bool),
	}
}

// AddTask inserts task into the task set, rejecting duplicate ids.
func (d *DAG) AddTask(t *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tasks[t.ID]; exists {
		return kernelerr.ErrDuplicateTaskId
	}
	d.tasks[t.ID] = t
	d.seq[t.ID] = len(d.order)
	d.order = append(d.order, t.ID)
	d.outEdge[t.ID] = make(map[id.TaskId]bool)
	d.inEdge[t.ID] = make(map[id.TaskId]bool)
	return nil
}

// AddDependency records that from must complete before to starts. If the
// edge would introduce a cycle, no mutation occurs and CycleDetected is
// returned.
func (d *DAG) AddDependency(from, to id.TaskId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tasks[from]; !ok {
		return kernelerr.ErrUnknownTask
	}
	if _, ok := d.tasks[to]; !ok {
		return kernelerr.ErrUnknownTask
	}
	if from == to || d.reachable(to, from) {
		return kernelerr.ErrCycleDetected
	}
	d.outEdge[from][to] = true
	d.inEdge[to][from] = true
	return nil
}

// reachable reports whether start can reach target by following outgoing
// edges. Callers must hold d.mu. Checked before mutation so a would-be
// cycle never touches the edge maps.
func (d *DAG) reachable(start, target id.TaskId) bool {
	if start == target {
		return true
	}
	visited := make(map[id.TaskId]bool)
	stack := []id.TaskId{start}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for next := range d.outEdge[cur] {
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// TopologicalOrder returns a deterministic Kahn ordering: ties broken by
// (priority desc, insertion order asc).
func (d *DAG) TopologicalOrder() []id.TaskId {
	d.mu.RLock()
	defer d.mu.RUnlock()

	inDegree := make(map[id.TaskId]int, len(d.tasks))
	for tid := range d.tasks {
		inDegree[tid] = len(d.inEdge[tid])
	}

	less := func(a, b id.TaskId) bool {
		pa, pb := d.tasks[a].Priority, d.tasks[b].Priority
		if pa != pb {
			return pa > pb
		}
		return d.seq[a] < d.seq[b]
	}

	var frontier []id.TaskId
	for tid, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, tid)
		}
	}
	sort.Slice(frontier, func(i, j int) bool { return less(frontier[i], frontier[j]) })

	result := make([]id.TaskId, 0, len(d.tasks))
	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]
		result = append(result, n)
		var unlocked []id.TaskId
		for next := range d.outEdge[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		sort.Slice(unlocked, func(i, j int) bool { return less(unlocked[i], unlocked[j]) })
		frontier = append(frontier, unlocked...)
		sort.Slice(frontier, func(i, j int) bool { return less(frontier[i], frontier[j]) })
	}
	return result
}

// ReadyFrontier returns every Pending task whose every in-neighbour is
// Completed.
func (d *DAG) ReadyFrontier() []id.TaskId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []id.TaskId
	for _, tid := range d.order {
		t := d.tasks[tid]
		if t.Status != Pending {
			continue
		}
		if d.allParentsCompleted(tid) {
			out = append(out, tid)
		}
	}
	return out
}

func (d *DAG) allParentsCompleted(tid id.TaskId) bool {
	for parent := range d.inEdge[tid] {
		if d.tasks[parent].Status != Completed {
			return false
		}
	}
	return true
}

// UpdateStatus enforces the task status transition relation.
func (d *DAG) UpdateStatus(tid id.TaskId, newStatus Status, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[tid]
	if !ok {
		return kernelerr.ErrUnknownTask
	}
	if !canTransition(t.Status, newStatus) {
		return kernelerr.ErrInvalidTransition
	}
	t.Status = newStatus
	switch newStatus {
	case Running:
		t.StartedAt = now
	case Completed, Failed, Cancelled:
		t.CompletedAt = now
	}
	return nil
}

// PrepareRetry resets a Failed task back to Pending, clearing
// started_at/completed_at/error and incrementing retry_count, without
// touching accumulated token/cost actuals.
func (d *DAG) PrepareRetry(tid id.TaskId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[tid]
	if !ok {
		return kernelerr.ErrUnknownTask
	}
	if t.Status != Failed {
		return kernelerr.ErrInvalidTransition
	}
	t.Status = Pending
	t.StartedAt = time.Time{}
	t.CompletedAt = time.Time{}
	t.LastError = ""
	t.RetryCount++
	return nil
}

// CancelDependents transitions every Pending task reachable from tid via
// outgoing edges to Cancelled, returning the cascaded ids. Calling it
// twice on the same subtree yields an empty result the second time.
func (d *DAG) CancelDependents(tid id.TaskId, now time.Time) ([]id.TaskId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tasks[tid]; !ok {
		return nil, kernelerr.ErrUnknownTask
	}

	var cancelled []id.TaskId
	visited := make(map[id.TaskId]bool)
	stack := make([]id.TaskId, 0, len(d.outEdge[tid]))
	for next := range d.outEdge[tid] {
		stack = append(stack, next)
	}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		t := d.tasks[cur]
		if t.Status == Pending {
			t.Status = Cancelled
			t.CompletedAt = now
			cancelled = append(cancelled, cur)
		}
		for next := range d.outEdge[cur] {
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return cancelled, nil
}

// Task returns a snapshot copy of the named task, or UnknownTask.
func (d *DAG) Task(tid id.TaskId) (Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tasks[tid]
	if !ok {
		return Task{}, kernelerr.ErrUnknownTask
	}
	return *t, nil
}

// MutateTask applies fn to the live task under the DAG's lock, so callers
// outside this package (the scheduler) can update fields like
// TokensUsed/CostUsed/AgentID atomically with respect to status readers.
func (d *DAG) MutateTask(tid id.TaskId, fn func(*Task)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[tid]
	if !ok {
		return kernelerr.ErrUnknownTask
	}
	fn(t)
	return nil
}

// Stats returns counts by status.
func (d *DAG) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var s Stats
	s.Total = len(d.tasks)
	for _, t := range d.tasks {
		switch t.Status {
		case Pending:
			s.Pending++
		case Ready:
			s.Ready++
		case Running:
			s.Running++
		case Completed:
			s.Completed++
		case Failed:
			s.Failed++
		case Cancelled:
			s.Cancelled++
		}
	}
	return s
}

// IsTerminal reports whether no task is Pending, Ready or Running: the DAG has
// nothing left to schedule.
func (d *DAG) IsTerminal() bool {
	s := d.Stats()
	return s.Pending == 0 && s.Ready == 0 && s.Running == 0
}

// CancelAll transitions every non-terminal task to Cancelled, used by
// cancel_dag.
func (d *DAG) CancelAll(now time.Time) []id.TaskId {
	d.mu.Lock()
	defer d.mu.Unlock()
	var cancelled []id.TaskId
	for _, tid := range d.order {
		t := d.tasks[tid]
		if !t.Status.Terminal() {
			t.Status = Cancelled
			t.CompletedAt = now
			cancelled = append(cancelled, tid)
		}
	}
	return cancelled
}

// TaskIDs returns task ids in insertion order.
func (d *DAG) TaskIDs() []id.TaskId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]id.TaskId, len(d.order))
	copy(out, d.order)
	return out
}
