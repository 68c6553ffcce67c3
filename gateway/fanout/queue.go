// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fanout provides the ordered delivery queue behind every
// gateway notifier.
//
// A backend that commits a change must not call subscriber code while
// holding its own locks, and must not block on a slow subscriber. Each
// subscription therefore owns a Queue: the backend pushes events under
// its lock (Push never blocks), and the queue's goroutine invokes the
// handler one event at a time in push order. A handler may call back
// into the backend, including unsubscribing itself, without
// deadlocking.
package fanout

import "sync"

// Queue delivers pushed items to a handler on a dedicated goroutine,
// in order, one at a time. The backlog is unbounded.
type Queue[T any] struct {
	handler func(T)

	mu     sync.Mutex
	items  []T
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New starts a queue delivering to handler.
func New[T any](handler func(T)) *Queue[T] {
	q := &Queue[T]{
		handler: handler,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Push enqueues item. It reports false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close discards pending items and stops delivery. A delivery already
// in progress runs to completion; no other item is delivered after
// Close returns. Idempotent and safe to call from the handler.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.stop)
}

// Done is closed when the delivery goroutine has exited.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }

// Len returns the number of undelivered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) run() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}
		for {
			item, ok := q.next()
			if !ok {
				break
			}
			q.handler(item)
		}
	}
}

func (q *Queue[T]) next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.closed || len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}
