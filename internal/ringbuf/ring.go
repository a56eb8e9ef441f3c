// Package ringbuf provides a fixed-capacity ring buffer that keeps the most
// recent items and silently drops the oldest on overflow.
package ringbuf

// Ring is not safe for concurrent use; callers guard it.
type Ring[T any] struct {
	buf   []T
	head  int
	count int
}

// New creates a Ring holding at most size items. size <= 0 is treated as 1.
func New[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{buf: make([]T, size)}
}

// From builds a Ring of the given size seeded with items, oldest first.
// When items exceeds size only the newest size items are kept.
func From[T any](size int, items []T) *Ring[T] {
	r := New[T](size)
	for _, it := range items {
		r.Push(it)
	}
	return r
}

// Push appends v, evicting the oldest item when full.
func (r *Ring[T]) Push(v T) {
	size := len(r.buf)
	if r.count < size {
		r.buf[(r.head+r.count)%size] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % size
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns a copy of the stored items, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Retain keeps only items for which keep returns true, preserving order.
func (r *Ring[T]) Retain(keep func(T) bool) {
	items := r.Items()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.count = 0, 0
	for _, it := range items {
		if keep(it) {
			r.buf[r.count] = it
			r.count++
		}
	}
}
