package publisher

import (
	"context"
	"sync"
)

// Message records a single published message.
type Message struct {
	Topic   string
	Payload []byte
}

// MockPublisher records all publishes for test assertions and lets tests
// deliver messages to subscribers.
type MockPublisher struct {
	mu       sync.Mutex
	messages []Message
	subs     map[string]Handler
	closed   bool
	err      error // if set, Publish returns this error
	failures int   // Publish fails this many more times with err
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{subs: make(map[string]Handler)}
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		if m.failures > 0 {
			m.failures--
			if m.failures == 0 {
				err := m.err
				m.err = nil
				return err
			}
		}
		return m.err
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	m.messages = append(m.messages, Message{Topic: topic, Payload: p})
	return nil
}

func (m *MockPublisher) Subscribe(topic string, fn Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = fn
	return nil
}

// Deliver hands payload to the subscriber of topic, as if the broker had
// sent it. It reports whether anyone was subscribed.
func (m *MockPublisher) Deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	fn := m.subs[topic]
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(topic, payload)
	return true
}

// Subscribed reports whether topic has a subscriber.
func (m *MockPublisher) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[topic]
	return ok
}

// Close marks the publisher closed and drops every subscription.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]Handler)
	return nil
}

// Messages returns a copy of all published messages.
func (m *MockPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]Message, len(m.messages))
	copy(msgs, m.messages)
	return msgs
}

// OnTopic returns the payloads published to topic, in order.
func (m *MockPublisher) OnTopic(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.messages {
		if msg.Topic == topic {
			out = append(out, string(msg.Payload))
		}
	}
	return out
}

// Reset clears all recorded messages.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Closed returns whether Close was called.
func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetError causes all subsequent Publish calls to return err.
// Pass nil to clear.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failures = 0
}

// FailNext causes the next n Publish calls to return err, after which
// publishing succeeds again.
func (m *MockPublisher) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failures = n
}
