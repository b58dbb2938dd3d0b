package dag

import (
	"encoding/json"
	"time"

	"github.com/swarmguard/agentkernel/internal/id"
)

// Status is a Task's position in its lifecycle status machine.
type Status int

const (
	Pending Status = iota
	Ready
	Running
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is one of the statuses a task never leaves.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// transitions enumerates every allowed (from, to) pair. Anything absent is
// rejected with InvalidTransition.
var transitions = map[Status]map[Status]bool{
	Pending: {Ready: true, Cancelled: true},
	Ready:   {Running: true, Cancelled: true},
	Running: {Completed: true, Failed: true, Cancelled: true},
}

func canTransition(from, to Status) bool {
	next, ok := transitions[from]
	return ok && next[to]
}

// Artifact describes an input/output artifact without the kernel
// interpreting its content.
type Artifact struct {
	Name        string `json:"name"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	URL         string `json:"url,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

// Input is a task's opaque instruction payload.
type Input struct {
	Instruction string          `json:"instruction"`
	Context     json.RawMessage `json:"context,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Artifacts   []Artifact      `json:"artifacts,omitempty"`
}

// Output is populated once a task reaches Completed.
type Output struct {
	Result    string          `json:"result"`
	Data      json.RawMessage `json:"data,omitempty"`
	Artifacts []Artifact      `json:"artifacts,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// Task is a single node in a TaskDAG.
type Task struct {
	ID         id.TaskId
	ParentID   id.TaskId
	HasParent  bool
	Name       string
	Priority   int
	MaxRetries int
	RetryCount int

	Input  Input
	Output Output

	Status     Status
	AgentID    id.AgentId
	HasAgent   bool
	ContractID id.ContractId

	TokensUsed uint64
	CostUsed   float64

	LastError string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// ShouldRetry reports whether a Failed task has retry budget remaining.
func (t *Task) ShouldRetry() bool {
	return t.RetryCount < t.MaxRetries
}
