package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/bikeflow/core/events"
	"github.com/kilianp07/bikeflow/core/publish"
)

// Publisher mirrors the core publish.Publisher interface.
type Publisher = publish.Publisher

// MockPublisher is a simple publisher used in tests.
type MockPublisher struct {
	Messages []publish.RunMessage
	Fail     bool
	Closed   bool
	mu       sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishRun records the message or returns an error if configured to fail.
func (m *MockPublisher) PublishRun(_ context.Context, ev events.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("publish failed")
	}
	m.Messages = append(m.Messages, publish.NewRunMessage(ev))
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockPublisher) Sent() []publish.RunMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publish.RunMessage(nil), m.Messages...)
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}
