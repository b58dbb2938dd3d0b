package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/agentkernel/internal/telemetry"
)

func TestAcquireReleaseStats(t *testing.T) {
	p := New(2, telemetry.Noop())
	perm1, err := p.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if _, ok := p.TryAcquire(); !ok {
		t.Fatalf("expected second permit available")
	}
	if _, ok := p.TryAcquire(); ok {
		t.Fatalf("expected pool exhausted at capacity 2")
	}
	perm1.Release()
	if _, ok := p.TryAcquire(); !ok {
		t.Fatalf("expected a permit freed after release")
	}
	stats := p.Stats()
	if stats.Capacity != 2 {
		t.Fatalf("expected capacity 2, got %d", stats.Capacity)
	}
}

func TestAcquireTimeout(t *testing.T) {
	p := New(1, telemetry.Noop())
	perm, err := p.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer perm.Release()

	_, err = p.Acquire(context.Background(), 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected AcquireTimeout when pool is exhausted")
	}
}

func TestShutdownRejectsNewAcquires(t *testing.T) {
	p := New(1, telemetry.Noop())
	p.Shutdown()
	if _, err := p.Acquire(context.Background(), time.Second); err == nil {
		t.Fatalf("expected Shutdown error after shutdown")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New(1, telemetry.Noop())
	perm, _ := p.Acquire(context.Background(), time.Second)
	perm.Release()
	perm.Release()
	stats := p.Stats()
	if stats.InUse != 0 {
		t.Fatalf("expected InUse 0 after double release, got %d", stats.InUse)
	}
}
