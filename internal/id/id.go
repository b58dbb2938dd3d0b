// Package id defines the disjoint identifier types used across the kernel.
//
// Each identifier wraps a uuid.UUID so that a TaskId can never be passed
// where a ContractId is expected, even though both are 128-bit values under
// the hood.
package id

import "github.com/google/uuid"

// TaskId uniquely identifies a Task within its DAG.
type TaskId uuid.UUID

// AgentId uniquely identifies an Agent.
type AgentId uuid.UUID

// ContractId uniquely identifies an AgentContract.
type ContractId uuid.UUID

// DagId uniquely identifies a TaskDAG.
type DagId uuid.UUID

func NewTaskId() TaskId         { return TaskId(uuid.New()) }
func NewAgentId() AgentId       { return AgentId(uuid.New()) }
func NewContractId() ContractId { return ContractId(uuid.New()) }
func NewDagId() DagId           { return DagId(uuid.New()) }

func (t TaskId) String() string     { return uuid.UUID(t).String() }
func (a AgentId) String() string    { return uuid.UUID(a).String() }
func (c ContractId) String() string { return uuid.UUID(c).String() }
func (d DagId) String() string      { return uuid.UUID(d).String() }

func (t TaskId) IsZero() bool     { return t == TaskId{} }
func (c ContractId) IsZero() bool { return c == ContractId{} }
