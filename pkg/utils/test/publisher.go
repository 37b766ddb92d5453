package testutils

import (
	"context"
	"sync"

	"github.com/spoolhq/spool/pkg/eventstream"
)

// MockPublisher is a test eventstream publisher that records events.
type MockPublisher struct {
	mu     sync.Mutex
	events []eventstream.ConversationEvent
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, event *eventstream.ConversationEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

// Events returns a copy of all published events.
func (m *MockPublisher) Events() []eventstream.ConversationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]eventstream.ConversationEvent(nil), m.events...)
}

// EventsOfType returns published events matching the given type.
func (m *MockPublisher) EventsOfType(eventType string) []eventstream.ConversationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []eventstream.ConversationEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockPublisher) Close() error {
	return nil
}
