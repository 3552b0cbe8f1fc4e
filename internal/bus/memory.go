package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus used by engine and IQ pipeline tests.
// It never fails a publish and records every message it has seen for
// assertions.
type MemoryBus struct {
	mu       sync.Mutex
	nextID   int
	subs     map[string][]subscription
	messages []Message
}

type subscription struct {
	id      int
	handler func(payload []byte)
}

// Message is one recorded publish, kept for test assertions.
type Message struct {
	Topic   string
	Payload []byte
	QoS     QoS
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]subscription)}
}

// Publish implements Bus.
func (m *MemoryBus) Publish(_ context.Context, topic string, payload []byte, qos QoS) error {
	m.mu.Lock()
	m.messages = append(m.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos})
	subs := append([]subscription{}, m.subs[topic]...)
	m.mu.Unlock()

	for _, s := range subs {
		s.handler(payload)
	}
	return nil
}

// Subscribe implements Bus.
func (m *MemoryBus) Subscribe(_ context.Context, topic string, handler func(payload []byte)) (func(), error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[topic] = append(m.subs[topic], subscription{id: id, handler: handler})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[topic]
		for i, s := range subs {
			if s.id == id {
				m.subs[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}, nil
}

// Close implements Bus.
func (m *MemoryBus) Close() error { return nil }

// Messages returns a snapshot of every message published so far, in
// publish order.
func (m *MemoryBus) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// MessagesOn returns only the messages published to topic.
func (m *MemoryBus) MessagesOn(topic string) []Message {
	var out []Message
	for _, msg := range m.Messages() {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}
