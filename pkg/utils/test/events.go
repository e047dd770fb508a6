package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/accord/pkg/eventstream"
)

// MockEventPublisher records published agreement events.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []*eventstream.AgreementEvent
}

// NewMockEventPublisher creates a new mock event publisher.
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) Publish(_ context.Context, ev *eventstream.AgreementEvent) error {
	if ev == nil {
		return eventstream.ErrNilEvent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns every event published so far.
func (m *MockEventPublisher) Events() []*eventstream.AgreementEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*eventstream.AgreementEvent(nil), m.events...)
}

func (m *MockEventPublisher) Close() error {
	return nil
}
