package testutil

import (
	"sync"
	"time"
)

// MockClock is a controllable clock for limiter and sampler tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock starting at the given time.
// If zero time is provided, uses current time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// NewMockClockMillis creates a MockClock at the given Unix millisecond.
func NewMockClockMillis(ms int64) *MockClock {
	return &MockClock{now: time.UnixMilli(ms)}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// SetMillis sets the mock clock to the given Unix millisecond.
func (m *MockClock) SetMillis(ms int64) {
	m.Set(time.UnixMilli(ms))
}
