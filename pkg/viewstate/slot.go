package viewstate

import "sync"

// Slot holds the latest snapshot of one scope. Snapshots are replaced
// wholesale; readers must treat loaded values as read-only.
type Slot[T any] struct {
	mu      sync.RWMutex
	value   T
	changed chan struct{}
}

func newSlot[T any](initial T) *Slot[T] {
	return &Slot[T]{value: initial, changed: make(chan struct{})}
}

// Load returns the current snapshot.
func (s *Slot[T]) Load() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Changed returns a channel that is closed when the snapshot is next
// replaced.
func (s *Slot[T]) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Slot[T]) store(v T) {
	s.mu.Lock()
	s.value = v
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}
