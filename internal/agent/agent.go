// Package agent tracks the pool of named model-bound workers the
// scheduler draws on: seeded with one Agent per catalogue model and grown
// on demand when every agent for a model is busy, each carrying a
// running reputation score and busy/idle status so list_agents and
// get_system_stats have something real to report.
package agent

import (
	"sync"
	"time"

	"github.com/swarmguard/agentkernel/internal/id"
)

// Status is an Agent's current availability.
type Status int

const (
	Idle Status = iota
	Busy
	Unreachable
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Busy:
		return "Busy"
	case Unreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// Agent is a named worker bound to a model preference, with accumulated
// counters and an exponentially-weighted success rate.
type Agent struct {
	ID             id.AgentId
	Name           string
	ModelPref      string
	Status         Status
	TasksCompleted uint64
	TasksFailed    uint64
	TokensUsed     uint64
	CostUsed       float64
	Reputation     float64 // EWMA of success rate, in [0,1]
	LastActiveAt   time.Time
}

// reputationAlpha weights how quickly the EWMA reacts to a new outcome.
const reputationAlpha = 0.3

// Registry holds every known agent, keyed by id.
type Registry struct {
	mu     sync.Mutex
	agents map[id.AgentId]*Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[id.AgentId]*Agent)}
}

// Seed registers one Idle agent per model name, starting at full
// reputation (1.0). Called once at startup against the router's catalogue.
func (r *Registry) Seed(modelNames []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range modelNames {
		a := &Agent{ID: id.NewAgentId(), Name: name, ModelPref: name, Status: Idle, Reputation: 1.0}
		r.agents[a.ID] = a
	}
}

// Acquire marks an Idle agent bound to modelPref Busy and returns it. If
// every agent for that model is busy, a fresh one is registered: the pool
// grows to meet concurrent demand rather than blocking, since admission
// control is the worker pool's job, not the agent registry's.
func (r *Registry) Acquire(modelPref string, now time.Time) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.ModelPref == modelPref && a.Status == Idle {
			a.Status = Busy
			a.LastActiveAt = now
			return a
		}
	}
	a := &Agent{ID: id.NewAgentId(), Name: modelPref, ModelPref: modelPref, Status: Busy, Reputation: 1.0, LastActiveAt: now}
	r.agents[a.ID] = a
	return a
}

// Release returns an agent to Idle and folds the outcome into its
// counters and reputation.
func (r *Registry) Release(agentID id.AgentId, success bool, tokens uint64, cost float64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	a.Status = Idle
	a.LastActiveAt = now
	a.TokensUsed += tokens
	a.CostUsed += cost
	outcome := 0.0
	if success {
		outcome = 1.0
		a.TasksCompleted++
	} else {
		a.TasksFailed++
	}
	a.Reputation = a.Reputation*(1-reputationAlpha) + outcome*reputationAlpha
}

// List returns a snapshot of every known agent.
func (r *Registry) List() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	return out
}

// Get returns a snapshot of a single agent.
func (r *Registry) Get(agentID id.AgentId) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// MarkUnreachable flags an agent Unreachable, for health-check driven
// eviction from routing consideration. Unused agents are never removed
// from the registry: get_system_stats needs their historical counters.
func (r *Registry) MarkUnreachable(agentID id.AgentId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		a.Status = Unreachable
	}
}
