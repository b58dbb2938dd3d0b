// Package eventbridge forwards the kernel's domain event stream to NATS,
// for external subscribers that live outside the orchestrator process.
// It is an optional collaborator: nothing in internal/scheduler or
// internal/orchestrator imports it, and an orchestrator with no bridge
// attached behaves identically.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/agentkernel/internal/eventlog"
)

var propagator = propagation.TraceContext{}

// msgPublisher is the narrow slice of *nats.Conn the bridge depends on,
// so Forward/Run can be exercised against a fake in tests without a live
// NATS server.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// publish injects ctx's traceparent into NATS headers and publishes.
func publish(ctx context.Context, nc msgPublisher, subject string, data []byte) error {
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: hdr})
}

// subscribe wraps nc.Subscribe, extracting trace context from each message
// and starting a child span before invoking handler.
func subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("agentkernel-eventbridge")
		ctx, span := tr.Start(ctx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}

// Bridge tails an eventlog.Log from a given sequence number and republishes
// each envelope to NATS, subject-per-event-kind under subjectPrefix.
type Bridge struct {
	pub           msgPublisher
	raw           *nats.Conn // nil when built around a fake publisher in tests
	subjectPrefix string
}

// New wraps an already-connected NATS connection. Connection lifecycle
// (Connect/Close) is the caller's responsibility.
func New(nc *nats.Conn, subjectPrefix string) *Bridge {
	return &Bridge{pub: nc, raw: nc, subjectPrefix: subjectPrefix}
}

// Subject returns the NATS subject an envelope of the given kind is
// published under.
func (b *Bridge) Subject(kind eventlog.Kind) string {
	return fmt.Sprintf("%s.%s", b.subjectPrefix, kind)
}

// Forward publishes a single envelope, propagating ctx's trace context
// into the NATS message headers.
func (b *Bridge) Forward(ctx context.Context, env eventlog.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return publish(ctx, b.pub, b.Subject(env.Event.Kind), data)
}

// Subscribe listens for inbound control messages on subject (e.g. an
// external cancel_dag request), extracting trace context per message.
// Only available on a Bridge built with a real NATS connection.
func (b *Bridge) Subscribe(subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	if b.raw == nil {
		return nil, fmt.Errorf("eventbridge: subscribe requires a live nats connection")
	}
	return subscribe(b.raw, subject, handler)
}

// Run polls log for events past fromSeq every pollInterval and forwards
// them in order, until ctx is cancelled. A forward failure is logged and
// skipped rather than retried: the bridge is a best-effort external
// mirror, not part of the EventSink durability contract.
func (b *Bridge) Run(ctx context.Context, log *eventlog.Log, fromSeq uint64, pollInterval time.Duration) {
	seq := fromSeq
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			envs := log.From(seq)
			for _, env := range envs {
				seq = env.Seq
				if err := b.Forward(ctx, env); err != nil {
					slog.Warn("eventbridge forward failed", "seq", env.Seq, "kind", env.Event.Kind, "error", err)
				}
			}
		}
	}
}
