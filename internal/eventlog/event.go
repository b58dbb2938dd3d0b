// Package eventlog implements the append-only domain-event stream: the
// system of record for reconstructing Task/Agent/DAG aggregates by
// left-fold over the sequence.
package eventlog

import (
	"time"

	"github.com/swarmguard/agentkernel/internal/id"
)

// Kind discriminates the closed set of domain event variants.
type Kind string

const (
	TaskCreated           Kind = "TaskCreated"
	TaskReady             Kind = "TaskReady"
	TaskStarted           Kind = "TaskStarted"
	TaskCompleted         Kind = "TaskCompleted"
	TaskFailed            Kind = "TaskFailed"
	TaskCancelled         Kind = "TaskCancelled"
	CancelCascade         Kind = "CancelCascade"
	DagCompleted          Kind = "DagCompleted"
	AgentSpawned          Kind = "AgentSpawned"
	ToolCalled            Kind = "ToolCalled"
	ContractExceeded      Kind = "ContractExceeded"
	CircuitBreakerTripped Kind = "CircuitBreakerTripped"
	CircuitBreakerClosed  Kind = "CircuitBreakerClosed"
)

// Event is a single immutable, timestamped domain event.
type Event struct {
	Kind       Kind
	DagID      id.DagId
	TaskID     id.TaskId
	ContractID id.ContractId
	AgentID    id.AgentId
	Code       string
	Tokens     uint64
	Cost       float64
	Message    string
	OccurredAt time.Time
}

// Envelope wraps an Event with the provenance fields required by the
// EventSink contract, plus the sequencer-assigned sequence number.
type Envelope struct {
	Seq           uint64
	Event         Event
	OccurredAt    time.Time
	Actor         string
	CorrelationID string
	CausationID   string
}
