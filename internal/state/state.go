// Package state holds the controller's shared records.
//
// Every record has exactly one writer. New hands back the readable Cell and a
// Writer; only the owning task is given the Writer, everyone else gets the Cell
// (or a Reader) and sees whole-value copies, never a half-written record.
package state

import "sync"

// Reader returns a point-in-time copy of a record.
type Reader[T any] interface {
	Load() T
}

// Cell holds one record behind an RWMutex.
type Cell[T any] struct {
	mu      sync.RWMutex
	v       T
	version uint64
}

// Writer is the single mutation handle for a Cell.
type Writer[T any] struct {
	c *Cell[T]
}

// New creates a Cell with an initial value and its only Writer.
func New[T any](initial T) (*Cell[T], *Writer[T]) {
	c := &Cell[T]{v: initial}
	return c, &Writer[T]{c: c}
}

// Load returns a copy of the current value.
func (c *Cell[T]) Load() T {
	c.mu.RLock()
	v := c.v
	c.mu.RUnlock()
	return v
}

// Version increases by one on every Store. Useful to detect change between ticks.
func (c *Cell[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Store replaces the value.
func (w *Writer[T]) Store(v T) {
	w.c.mu.Lock()
	w.c.v = v
	w.c.version++
	w.c.mu.Unlock()
}

// Update applies fn to the current value under the write lock.
// fn must not block.
func (w *Writer[T]) Update(fn func(*T)) {
	w.c.mu.Lock()
	fn(&w.c.v)
	w.c.version++
	w.c.mu.Unlock()
}

// Load lets the owner read back what it wrote.
func (w *Writer[T]) Load() T {
	return w.c.Load()
}

// Static is a Reader that always returns the same value. Handy in tests and
// for records that are fixed after startup.
type Static[T any] struct {
	V T
}

// Load returns the fixed value.
func (s Static[T]) Load() T { return s.V }
