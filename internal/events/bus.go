// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (the exercise engine, the
// IQ streaming pipeline) to subscribers (the WebSocket handler, future
// metrics collectors). The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
//
// This bus is strictly additive: it exists for live observers and
// carries no delivery guarantees. It is not the system of record for
// exercise state or inject delivery — the StatusStore and DeliverySet
// are authoritative for that.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceEngine identifies events from the exercise engine's state
	// machine and tick loop.
	SourceEngine = "engine"
	// SourceIQ identifies events from the IQ streaming pipeline.
	SourceIQ = "iq"
)

// Kind constants describe the type of event within a source.
const (
	// KindStateChanged signals the exercise state machine transitioned.
	// Data: scenario, from, to.
	KindStateChanged = "state_changed"
	// KindTick signals a tick of the exercise clock.
	// Data: scenario, elapsed_seconds.
	KindTick = "tick"
	// KindInjectDelivered signals an inject was delivered to a team.
	// Data: scenario, team, inject_id, elapsed_seconds.
	KindInjectDelivered = "inject_delivered"
	// KindJammingChanged signals the signal mixer's jamming mode changed.
	// Data: scenario, jamming_type, power_db.
	KindJammingChanged = "jamming_changed"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
