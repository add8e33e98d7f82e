// Package history keeps the bounded backlog of accepted messages replayed to
// newly admitted connections.
package history

import "sync"

// DefaultCapacity is the number of messages kept when none is configured.
const DefaultCapacity = 50

// Buffer is a bounded FIFO. Appending beyond capacity evicts the oldest
// entries first.
type Buffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
}

// New creates a Buffer holding at most capacity items.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Append pushes item to the end and trims from the front until the buffer is
// back within capacity.
func (b *Buffer[T]) Append(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, item)
	if over := len(b.items) - b.capacity; over > 0 {
		var zero T
		for i := 0; i < over; i++ {
			b.items[i] = zero
		}
		b.items = append(b.items[:0], b.items[over:]...)
	}
}

// Snapshot returns a point-in-time copy in insertion order. Later appends do
// not affect the returned slice.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Capacity returns the maximum number of buffered items.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}
