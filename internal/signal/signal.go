// Package signal provides a small typed event stream.  Listeners are
// registered explicitly and removed through the handle returned at
// registration; emission is synchronous and in registration order.
//
// New listeners never see past values: a Signal keeps no history.
package signal

import "sync"

// Signal fans a value out to every connected listener.
// The zero value is ready to use.
type Signal[T any] struct {
	mu    sync.Mutex
	slots []*Connection[T]
}

// Connection is the handle for one listener.
type Connection[T any] struct {
	sig *Signal[T]
	fn  func(T)
}

// New returns an empty Signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Connect registers fn and returns its handle.  Connecting the same
// function twice delivers every value twice.
func (s *Signal[T]) Connect(fn func(T)) *Connection[T] {
	c := &Connection[T]{sig: s, fn: fn}
	s.mu.Lock()
	s.slots = append(s.slots, c)
	s.mu.Unlock()
	return c
}

// Emit delivers v to a snapshot of the current listeners.  Listeners
// may connect or disconnect from inside a callback.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := make([]*Connection[T], len(s.slots))
	copy(slots, s.slots)
	s.mu.Unlock()

	for _, c := range slots {
		c.fn(v)
	}
}

// Len returns the number of connected listeners.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// DisconnectAll removes every listener.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	s.slots = nil
	s.mu.Unlock()
}

// Disconnect removes the listener.  It is safe to call more than once
// and on a nil handle.
func (c *Connection[T]) Disconnect() {
	if c == nil || c.sig == nil {
		return
	}
	s := c.sig
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, slot := range s.slots {
		if slot == c {
			s.slots = append(s.slots[:i:i], s.slots[i+1:]...)
			break
		}
	}
	c.sig = nil
}
