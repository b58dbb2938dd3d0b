package contract

import (
	"testing"
	"time"

	"github.com/swarmguard/agentkernel/internal/id"
)

func TestTokenLimitEnforcement(t *testing.T) {
	now := time.Now()
	c := New(id.NewContractId(), id.NewAgentId(), id.NewTaskId(), Limits{TokenLimit: 10000, CostLimit: 1.0, ApiCallLimit: 10, TimeLimitSecs: 60}, now)

	if err := c.RecordTokens(5000, now); err != nil {
		t.Fatalf("unexpected error recording 5000 tokens: %v", err)
	}
	if err := c.RecordTokens(6000, now); err == nil {
		t.Fatalf("expected TokenLimitExceeded recording 6000 more tokens")
	}
}

func TestChildContractConservation(t *testing.T) {
	now := time.Now()
	parent := New(id.NewContractId(), id.NewAgentId(), id.NewTaskId(), Limits{TokenLimit: 10000, CostLimit: 1.0, ApiCallLimit: 100, TimeLimitSecs: 300}, now)
	if err := parent.RecordTokens(5000, now); err != nil {
		t.Fatalf("record tokens: %v", err)
	}

	_, err := parent.CreateChild(id.NewContractId(), id.NewAgentId(), id.NewTaskId(),
		Limits{TokenLimit: 6000, CostLimit: 0.1, ApiCallLimit: 5, TimeLimitSecs: 60}, now)
	if err == nil {
		t.Fatalf("expected ContractViolation requesting 6000 tokens against 5000 remaining")
	}

	child, err := parent.CreateChild(id.NewContractId(), id.NewAgentId(), id.NewTaskId(),
		Limits{TokenLimit: 4000, CostLimit: 0.1, ApiCallLimit: 5, TimeLimitSecs: 60}, now)
	if err != nil {
		t.Fatalf("expected child creation to succeed: %v", err)
	}
	if child.ExpiresAt.After(parent.ExpiresAt) {
		t.Fatalf("child expiry must not exceed parent expiry")
	}
}

func TestRecordOnClosedContractFails(t *testing.T) {
	now := time.Now()
	c := New(id.NewContractId(), id.NewAgentId(), id.NewTaskId(), Limits{TokenLimit: 100, CostLimit: 1, ApiCallLimit: 5, TimeLimitSecs: 60}, now)
	if err := c.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := c.RecordTokens(1, now); err == nil {
		t.Fatalf("expected ContractClosed recording against a completed contract")
	}
}

func TestConservationAcrossMultipleChildren(t *testing.T) {
	now := time.Now()
	parent := New(id.NewContractId(), id.NewAgentId(), id.NewTaskId(), Limits{TokenLimit: 10000, CostLimit: 1.0, ApiCallLimit: 100, TimeLimitSecs: 300}, now)

	if _, err := parent.CreateChild(id.NewContractId(), id.NewAgentId(), id.NewTaskId(),
		Limits{TokenLimit: 4000, CostLimit: 0.3, ApiCallLimit: 10, TimeLimitSecs: 30}, now); err != nil {
		t.Fatalf("first child: %v", err)
	}
	// Remaining() reflects only the parent's own usage, not outstanding
	// child allocations (children are not deducted at spawn), so a
	// second, larger request that still fits the parent's own limits
	// succeeds even though combined with the sibling it would exceed the
	// parent's budget. Conservation is enforced by actual leaf-level
	// accounting, not reservation bookkeeping.
	if _, err := parent.CreateChild(id.NewContractId(), id.NewAgentId(), id.NewTaskId(),
		Limits{TokenLimit: 9000, CostLimit: 0.5, ApiCallLimit: 10, TimeLimitSecs: 30}, now); err != nil {
		t.Fatalf("second child should fit within parent's own remaining budget: %v", err)
	}
}
