// Package ring provides a fixed-capacity, mutex-guarded history buffer.
package ring

import "sync"

// Buffer keeps the most recent Cap entries. The zero value is unusable; use New.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	next  int
	full  bool
}

// New returns a buffer holding at most capacity entries (minimum 1).
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Add appends v, evicting the oldest entry when full.
func (b *Buffer[T]) Add(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.next] = v
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns the number of retained entries.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.items)
	}
	return b.next
}

// Snapshot returns retained entries oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]T, b.next)
		copy(out, b.items[:b.next])
		return out
	}
	out := make([]T, 0, len(b.items))
	out = append(out, b.items[b.next:]...)
	out = append(out, b.items[:b.next]...)
	return out
}

// Last returns the newest entry.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	if !b.full && b.next == 0 {
		return zero, false
	}
	idx := (b.next - 1 + len(b.items)) % len(b.items)
	return b.items[idx], true
}

// Reset drops every entry.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.next = 0
	b.full = false
}
