package orchestrator

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/agentkernel/internal/eventlog"
)

// SnapshotScheduler periodically persists every active DAG's projection
// through a Snapshot sink, on a cron cadence. Task scheduling itself is
// event-driven (the per-DAG scheduler reacts to readiness and wake
// signals); cron here only drives the out-of-band compaction sweep, not
// task dispatch.
type SnapshotScheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	orch *Orchestrator
	snap eventlog.Snapshot

	runs int
	fails int
}

// NewSnapshotScheduler builds a scheduler that will snapshot orch's active
// DAGs against snap once started. cronExpr follows robfig/cron's standard
// five-field syntax or a descriptor such as "@every 1m"; the parser is not
// built WithSeconds, so six-field expressions are rejected.
func NewSnapshotScheduler(orch *Orchestrator, snap eventlog.Snapshot, cronExpr string) (*SnapshotScheduler, error) {
	s := &SnapshotScheduler{
		cron: cron.New(),
		orch: orch,
		snap: snap,
	}
	if _, err := s.cron.AddFunc(cronExpr, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron loop. Non-blocking.
func (s *SnapshotScheduler) Start() { s.cron.Start() }

// Stop halts the cron loop and waits for any in-flight sweep to finish.
func (s *SnapshotScheduler) Stop() { <-s.cron.Stop().Done() }

// sweep snapshots every active DAG's current projection. A failure on one
// DAG is logged and does not prevent the rest of the sweep from running.
func (s *SnapshotScheduler) sweep() {
	s.orch.mu.RLock()
	dagIDs := make([]string, 0, len(s.orch.dags))
	entries := make(map[string]*dagEntry, len(s.orch.dags))
	for dagID, e := range s.orch.dags {
		if e.d.IsTerminal() {
			continue
		}
		key := dagID.String()
		dagIDs = append(dagIDs, key)
		entries[key] = e
	}
	s.orch.mu.RUnlock()

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	for _, key := range dagIDs {
		e := entries[key]
		ids := e.d.TaskIDs()
		tasks := make([]any, 0, len(ids))
		for _, tid := range ids {
			if t, err := e.d.Task(tid); err == nil {
				tasks = append(tasks, t)
			}
		}
		payload, err := json.Marshal(struct {
			Stats any
			Tasks any
		}{Stats: e.d.Stats(), Tasks: tasks})
		if err != nil {
			slog.Error("snapshot marshal failed", "dag_id", key, "error", err)
			s.mu.Lock()
			s.fails++
			s.mu.Unlock()
			continue
		}
		if err := s.snap.Save(key, payload); err != nil {
			slog.Error("snapshot save failed", "dag_id", key, "error", err)
			s.mu.Lock()
			s.fails++
			s.mu.Unlock()
		}
	}
}

// Stats reports sweep counters, for diagnostics.
func (s *SnapshotScheduler) Stats() (runs, fails int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.fails
}
