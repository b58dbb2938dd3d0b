// Package broadcast implements the topic-addressed, lossy-bounded
// publish-subscribe fabric. Topic identifiers (Task, Agent, Dag, Metrics,
// Approvals, Room) mirror the RoomId variants of the reference websocket
// module; the drop-oldest-with-lag-counter overflow policy and
// idle-timeout eviction are layered onto that shape.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/swarmguard/agentkernel/internal/clock"
	"github.com/swarmguard/agentkernel/internal/id"
	"github.com/swarmguard/agentkernel/internal/telemetry"
)

// TopicKind discriminates the closed set of topic variants.
type TopicKind int

const (
	TopicTask TopicKind = iota
	TopicAgent
	TopicDag
	TopicMetrics
	TopicApprovals
	TopicRoom
)

// Topic addresses a subscription target. Task/Agent/Dag carry an id; Room
// carries a free-form name; Metrics/Approvals carry neither.
type Topic struct {
	Kind TopicKind
	Task id.TaskId
	Agent id.AgentId
	Dag  id.DagId
	Room string
}

func TaskTopic(t id.TaskId) Topic   { return Topic{Kind: TopicTask, Task: t} }
func AgentTopic(a id.AgentId) Topic { return Topic{Kind: TopicAgent, Agent: a} }
func DagTopic(d id.DagId) Topic     { return Topic{Kind: TopicDag, Dag: d} }
func MetricsTopic() Topic           { return Topic{Kind: TopicMetrics} }
func ApprovalsTopic() Topic         { return Topic{Kind: TopicApprovals} }
func RoomTopic(name string) Topic   { return Topic{Kind: TopicRoom, Room: name} }

// Message is a single delivered item: a topic, the per-topic monotonic
// sequence number, and an opaque payload.
type Message struct {
	Topic   Topic
	Seq     uint64
	Payload any
}

// Lagged is synthesized and queued immediately ahead of the next message
// delivered on a topic that dropped messages, surfacing the gap to the
// subscriber.
type Lagged struct {
	Topic   Topic
	Dropped uint64
}

// Config tunes buffer sizing and idle eviction.
type Config struct {
	BufferSize  int
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{BufferSize: 1024, IdleTimeout: 90 * time.Second}
}

type subscriber struct {
	mu         sync.Mutex
	topics     map[Topic]bool
	buf        []Message
	lagByTopic map[Topic]uint64
	pendingLag map[Topic]uint64
	lastRead   time.Time
	notify     chan struct{}
	closed     bool
}

// Subscription is the handle returned to a caller; it owns no goroutine,
// consumption is pull-based via Next.
type Subscription struct {
	b  *Broadcaster
	id uint64
	s  *subscriber
}

// Broadcaster fans messages out to registered subscribers.
type Broadcaster struct {
	mu          sync.Mutex
	cfg         Config
	clk         clock.Clock
	m           telemetry.Metrics
	nextSubID   uint64
	subs        map[uint64]*subscriber
	seqByTopic  map[Topic]uint64
}

func New(cfg Config, clk clock.Clock, m telemetry.Metrics) *Broadcaster {
	return &Broadcaster{
		cfg:        cfg,
		clk:        clk,
		m:          m,
		subs:       make(map[uint64]*subscriber),
		seqByTopic: make(map[Topic]uint64),
	}
}

// Subscribe registers interest in the given topics and returns a handle
// for pulling messages.
func (b *Broadcaster) Subscribe(topics ...Topic) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSubID
	b.nextSubID++
	topicSet := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		topicSet[t] = true
	}
	s := &subscriber{
		topics:     topicSet,
		lagByTopic: make(map[Topic]uint64),
		pendingLag: make(map[Topic]uint64),
		lastRead:   b.clk.Now(),
		notify:     make(chan struct{}, 1),
	}
	b.subs[id] = s
	return &Subscription{b: b, id: id, s: s}
}

// Unsubscribe removes the subscription and reclaims its buffer.
func (sub *Subscription) Unsubscribe() {
	sub.b.mu.Lock()
	defer sub.b.mu.Unlock()
	delete(sub.b.subs, sub.id)
	sub.s.mu.Lock()
	sub.s.closed = true
	sub.s.mu.Unlock()
}

// Next blocks until a message is available, the subscription is closed,
// or ctxDone fires. A nil, false return means the subscription ended.
func (sub *Subscription) Next(ctxDone <-chan struct{}) (Message, bool) {
	for {
		sub.s.mu.Lock()
		if sub.s.closed {
			sub.s.mu.Unlock()
			return Message{}, false
		}
		if len(sub.s.buf) > 0 {
			msg := sub.s.buf[0]
			sub.s.buf = sub.s.buf[1:]
			sub.s.lastRead = sub.b.clk.Now()
			sub.s.mu.Unlock()
			return msg, true
		}
		notify := sub.s.notify
		sub.s.mu.Unlock()

		select {
		case <-notify:
			continue
		case <-ctxDone:
			return Message{}, false
		}
	}
}

// Publish delivers payload to every subscriber registered on topic. The
// publish path is non-blocking: a full subscriber drops its oldest queued
// message and its lag counter for that topic increments; other
// subscribers are unaffected.
func (b *Broadcaster) Publish(topic Topic, payload any) {
	b.mu.Lock()
	b.seqByTopic[topic]++
	seq := b.seqByTopic[topic]
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	msg := Message{Topic: topic, Seq: seq, Payload: payload}
	for _, s := range subs {
		b.deliverOne(s, topic, msg)
	}
}

func (b *Broadcaster) deliverOne(s *subscriber, topic Topic, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.topics[topic] {
		return
	}
	if len(s.buf) >= b.cfg.BufferSize {
		s.buf = s.buf[1:]
		s.lagByTopic[topic]++
		s.pendingLag[topic]++
		if b.m.BroadcastDrops != nil {
			b.m.BroadcastDrops.Add(context.Background(), 1)
		}
	}
	// A gap is surfaced once, as a Lagged message ahead of the next
	// delivery on the topic it happened on, rather than silently.
	if n := s.pendingLag[topic]; n > 0 {
		if len(s.buf) >= b.cfg.BufferSize {
			s.buf = s.buf[1:]
		}
		s.buf = append(s.buf, Message{Topic: topic, Seq: msg.Seq, Payload: Lagged{Topic: topic, Dropped: n}})
		delete(s.pendingLag, topic)
	}
	s.buf = append(s.buf, msg)
	if b.m.BroadcastDelivered != nil {
		b.m.BroadcastDelivered.Add(context.Background(), 1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Lag returns the accumulated drop count for topic on this subscription.
func (sub *Subscription) Lag(topic Topic) uint64 {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	return sub.s.lagByTopic[topic]
}

// EvictIdle closes every subscription that hasn't read in cfg.IdleTimeout,
// returning the count evicted. Intended to be driven by a periodic sweep
// off an injected clock so tests can advance time deterministically.
func (b *Broadcaster) EvictIdle() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clk.Now()
	evicted := 0
	for sid, s := range b.subs {
		s.mu.Lock()
		idle := now.Sub(s.lastRead)
		s.mu.Unlock()
		if idle >= b.cfg.IdleTimeout {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			delete(b.subs, sid)
			evicted++
		}
	}
	return evicted
}

// Stats summarizes the broadcaster's current load.
type Stats struct {
	ActiveSubscribers int
	Topics            int
}

func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{ActiveSubscribers: len(b.subs), Topics: len(b.seqByTopic)}
}
