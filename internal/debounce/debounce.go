// Package debounce batches items by key and flushes each batch after a
// quiet window.
package debounce

import (
	"sync"
	"time"
)

// Debouncer buffers items per key. A key's timer resets on every enqueue;
// when the window elapses without new items the batch is flushed. In leading
// mode the first item of a fresh key is flushed immediately and the window
// only coalesces the followers, still delivering the last one.
type Debouncer[T any] struct {
	mu      sync.Mutex
	buffers map[string]*buffer[T]
	stopped bool

	window  time.Duration
	leading bool
	key     func(item T) string
	flush   func(key string, items []T)
}

type buffer[T any] struct {
	items []T
	timer *time.Timer
}

// Option configures a Debouncer.
type Option[T any] func(*Debouncer[T])

// WithWindow sets the quiet window. Zero disables buffering; every item
// flushes immediately.
func WithWindow[T any](d time.Duration) Option[T] {
	return func(db *Debouncer[T]) {
		if d < 0 {
			d = 0
		}
		db.window = d
	}
}

// WithKey sets the grouping function. Default: one shared batch.
func WithKey[T any](fn func(item T) string) Option[T] {
	return func(db *Debouncer[T]) { db.key = fn }
}

// WithLeading makes the first item of an idle key flush immediately.
func WithLeading[T any]() Option[T] {
	return func(db *Debouncer[T]) { db.leading = true }
}

// New builds a Debouncer that delivers batches to flush.
func New[T any](flush func(key string, items []T), opts ...Option[T]) *Debouncer[T] {
	db := &Debouncer[T]{
		buffers: make(map[string]*buffer[T]),
		flush:   flush,
		key:     func(T) string { return "" },
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Enqueue adds an item to its key's batch.
func (db *Debouncer[T]) Enqueue(item T) {
	db.mu.Lock()
	if db.stopped {
		db.mu.Unlock()
		return
	}
	key := db.key(item)

	if db.window == 0 {
		db.mu.Unlock()
		db.flush(key, []T{item})
		return
	}

	buf, ok := db.buffers[key]
	if !ok {
		buf = &buffer[T]{}
		db.buffers[key] = buf
		buf.timer = time.AfterFunc(db.window, func() { db.flushKey(key) })
		if db.leading {
			db.mu.Unlock()
			db.flush(key, []T{item})
			return
		}
		buf.items = append(buf.items, item)
		db.mu.Unlock()
		return
	}

	buf.items = append(buf.items, item)
	buf.timer.Stop()
	buf.timer = time.AfterFunc(db.window, func() { db.flushKey(key) })
	db.mu.Unlock()
}

func (db *Debouncer[T]) flushKey(key string) {
	db.mu.Lock()
	buf, ok := db.buffers[key]
	if !ok || db.stopped {
		db.mu.Unlock()
		return
	}
	delete(db.buffers, key)
	buf.timer.Stop()
	items := buf.items
	db.mu.Unlock()

	if len(items) > 0 {
		db.flush(key, items)
	}
}

// Flush drains every pending batch immediately.
func (db *Debouncer[T]) Flush() {
	db.mu.Lock()
	keys := make([]string, 0, len(db.buffers))
	for key := range db.buffers {
		keys = append(keys, key)
	}
	db.mu.Unlock()
	for _, key := range keys {
		db.flushKey(key)
	}
}

// Stop cancels all pending timers and drops buffered items.
func (db *Debouncer[T]) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stopped = true
	for key, buf := range db.buffers {
		buf.timer.Stop()
		delete(db.buffers, key)
	}
}

// Pending reports the number of keys with buffered items.
func (db *Debouncer[T]) Pending() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.buffers)
}
