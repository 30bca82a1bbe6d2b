package events

import "sync"

// MemoryEmitter buffers emitted events in order. It backs the in-process
// event feed consumed by the allocator signal and by tests.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []*Event
	cap    int
}

// NewMemoryEmitter constructs a bounded buffer. A non-positive cap disables
// the bound.
func NewMemoryEmitter(cap int) *MemoryEmitter {
	return &MemoryEmitter{cap: cap}
}

// Emit implements the Emitter interface.
func (m *MemoryEmitter) Emit(evt *Event) {
	if m == nil || evt == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	if m.cap > 0 && len(m.events) > m.cap {
		m.events = m.events[len(m.events)-m.cap:]
	}
}

// Drain returns the buffered events and resets the buffer.
func (m *MemoryEmitter) Drain() []*Event {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}

// Events returns a copy of the buffered events without resetting them.
func (m *MemoryEmitter) Events() []*Event {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}
