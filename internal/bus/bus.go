// Package bus implements the in-process typed pub/sub used for lifecycle
// and crash events. It deliberately has no persistence or cross-process
// delivery: it exists purely so subsystems that must react to a task's
// state or a plugin's health don't need direct references to each other.
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

// Lifecycle and crash-event topics.
const (
	TopicTaskStateChanged = "task.state_changed"
	TopicTaskCompleted    = "task.completed"
	TopicTaskFailed       = "task.failed"
	TopicPluginCrashed    = "plugin.crashed"
	TopicPluginQuarantine = "plugin.quarantined"
	TopicPluginRestarted  = "plugin.restarted"
	TopicRateLimited      = "ratelimit.refused"
	TopicCircuitOpened    = "ratelimit.circuit_opened"
	TopicCircuitClosed    = "ratelimit.circuit_closed"
	TopicToolDispatched   = "tool.dispatched"
	TopicAgentStep        = "agent.step"
)

// AgentStepEvent is published once per think/act/observe iteration.
type AgentStepEvent struct {
	TaskID   string
	Step     int
	MaxSteps int
}

// TaskStateChangedEvent is published whenever a Task transitions status.
type TaskStateChangedEvent struct {
	TaskID    string
	OldStatus string
	NewStatus string
}

// PluginCrashedEvent is published every time a WASM plugin call is treated
// as a crash, before the crash-counter/restart decision is made.
type PluginCrashedEvent struct {
	Plugin      string
	CrashCount  int
	WillRestart bool
	Err         string
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

// Bus is an in-process pub/sub message bus with topic-prefix matching.
// Multi-producer, multi-subscriber: publish never blocks, and a slow
// subscriber drops events rather than stall the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe creates a subscription for events matching the given topic
// prefix. An empty prefix matches all topics. The returned channel has a
// buffer of 100 events; slow consumers will miss events.
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

// Publish sends an event to every matching subscriber. Delivery is
// non-blocking: a subscriber with a full buffer drops the event.
//
// Per-plugin ordering: callers that need in-order crash-event delivery to
// each subscriber must serialize their own Publish calls for that plugin
// — Publish itself never reorders across calls, since each call iterates
// the same subscriber set and is not interleaved with itself.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
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
