package engine

import "sync"

// jobQueue is an unbounded FIFO that lets submitters return immediately.
// Several workers may wait on the same queue.
type jobQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

func newJobQueue[T any]() *jobQueue[T] {
	return &jobQueue[T]{signal: make(chan struct{}, 1)}
}

func (q *jobQueue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
}

func (q *jobQueue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.notify()
	}
	return v, true
}

func (q *jobQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *jobQueue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
