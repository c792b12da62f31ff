package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/sideline/internal/dependencies/ids"
)

// MockIDs is a mock implementation of ids.Generator for testing
type MockIDs struct {
	mu sync.Mutex

	// Queued is a queue of identifiers to return from NewID
	Queued []string
	index  int
	next   int
}

// Ensure MockIDs implements Generator
var _ ids.Generator = (*MockIDs)(nil)

// NewMockIDs creates a new MockIDs
func NewMockIDs() *MockIDs {
	return &MockIDs{}
}

// NewID returns the next queued id, or a deterministic UUID-shaped id
// derived from a counter when none remain
func (m *MockIDs) NewID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index < len(m.Queued) {
		id := m.Queued[m.index]
		m.index++
		return id
	}
	m.next++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", m.next)
}

// Queue adds values to the NewID result queue
func (m *MockIDs) Queue(values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queued = append(m.Queued, values...)
}
