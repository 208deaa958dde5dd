package hub

import "sync"

// sendLatest delivers v without blocking: when the buffer is full the
// oldest entry is dropped, so a slow consumer lags instead of stalling the
// read loop.
func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// broadcast fans values out to subscribers.
type broadcast[T any] struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan T
	bufSize int
}

func newBroadcast[T any](bufSize int) *broadcast[T] {
	return &broadcast[T]{subs: make(map[int]chan T), bufSize: bufSize}
}

func (b *broadcast[T]) subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan T, b.bufSize)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *broadcast[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		sendLatest(ch, v)
	}
}

// replay is a broadcast that keeps the most recent value; new subscribers
// receive it immediately. Carries the last transport error to late
// subscribers.
type replay[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
	has    bool
	last   T
}

func newReplay[T any]() *replay[T] {
	return &replay[T]{subs: make(map[int]chan T)}
}

func (r *replay[T]) subscribe() (<-chan T, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	ch := make(chan T, 4)
	if r.has {
		ch <- r.last
	}
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *replay[T]) publish(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.has = true
	r.last = v
	for _, ch := range r.subs {
		sendLatest(ch, v)
	}
}
