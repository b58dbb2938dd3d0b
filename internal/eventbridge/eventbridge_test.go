package eventbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/swarmguard/agentkernel/internal/eventlog"
)

// fakePublisher records every message it's asked to publish, standing in
// for a live NATS connection.
type fakePublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
}

func (f *fakePublisher) PublishMsg(m *nats.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakePublisher) snapshot() []*nats.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*nats.Msg, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func TestSubjectNamesByEventKind(t *testing.T) {
	b := &Bridge{subjectPrefix: "agentkernel.events"}
	if got := b.Subject(eventlog.TaskCompleted); got != "agentkernel.events.TaskCompleted" {
		t.Fatalf("unexpected subject: %s", got)
	}
}

func TestForwardPublishesUnderKindSubject(t *testing.T) {
	fp := &fakePublisher{}
	b := &Bridge{pub: fp, subjectPrefix: "agentkernel.events"}

	log := eventlog.New()
	env, err := log.Append(eventlog.Event{Kind: eventlog.TaskCompleted, OccurredAt: time.Unix(0, 0)}, "test", "corr", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := b.Forward(context.Background(), env); err != nil {
		t.Fatalf("forward: %v", err)
	}
	msgs := fp.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
	if msgs[0].Subject != "agentkernel.events.TaskCompleted" {
		t.Fatalf("unexpected subject: %s", msgs[0].Subject)
	}
}

func TestRunForwardsNewEventsInOrder(t *testing.T) {
	fp := &fakePublisher{}
	b := &Bridge{pub: fp, subjectPrefix: "agentkernel.events"}
	log := eventlog.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, log, 0, 5*time.Millisecond)
		close(done)
	}()

	if _, err := log.Append(eventlog.Event{Kind: eventlog.TaskStarted, OccurredAt: time.Unix(0, 0)}, "s", "c", ""); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := log.Append(eventlog.Event{Kind: eventlog.TaskCompleted, OccurredAt: time.Unix(0, 0)}, "s", "c", ""); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(fp.snapshot()) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for bridge to forward both events, got %d", len(fp.snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	msgs := fp.snapshot()
	if msgs[0].Subject != "agentkernel.events.TaskStarted" || msgs[1].Subject != "agentkernel.events.TaskCompleted" {
		t.Fatalf("expected forwarded events in append order, got %s then %s", msgs[0].Subject, msgs[1].Subject)
	}
}
