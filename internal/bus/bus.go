package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Review run event topics.
const (
	TopicRouteDecided   = "route.decided"
	TopicAgentStarted   = "agent.started"
	TopicAgentFinished  = "agent.finished"
	TopicAgentFailed    = "agent.failed"
	TopicRecordSaved    = "memory.record_saved"
	TopicMemoryDegraded = "memory.degraded"
	TopicMemoryPushed   = "memory.pushed"
	TopicMemoryPushSkip = "memory.push_skipped"
	TopicMemoryPushFail = "memory.push_failed"
)

// RouteDecidedEvent is published when the router finalizes an agent set.
type RouteDecidedEvent struct {
	RunID          string   // CI run identifier
	SelectedAgents []string // agents in priority order
	FromLabels     bool     // true when a forcing label decided the set
	FromMemory     []string // categories added by memory similarity
}

// AgentEvent is published when a reviewer agent starts or finishes.
type AgentEvent struct {
	RunID    string // CI run identifier
	Agent    string // reviewer agent name
	Findings int    // finding count (finished only)
	Err      string // failure message (failed only)
}

// RecordSavedEvent is published for every record appended to memory.
type RecordSavedEvent struct {
	RecordID string // record id
	Agent    string // producing agent
	Category string // record category
	Embedded bool   // false when the record was stored without a vector
}

// PushEvent is published with the outcome of a commit guard persist.
type PushEvent struct {
	RunID   string // CI run identifier
	Commit  string // commit SHA, when one was created
	Retried bool   // true when the push needed a rebase-and-retry
	Err     string // failure message (push_failed only)
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe creates a subscription for events matching the given topic prefix.
// An empty prefix matches all topics.
// The returned channel has a buffer of 100 events; slow consumers will miss events
// (non-blocking send).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers.
// Delivery is non-blocking: if a subscriber's buffer is full, the event is dropped.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			// Non-blocking send.
			select {
			case sub.ch <- event:
			default:
				// Buffer full, drop event for this subscriber.
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
