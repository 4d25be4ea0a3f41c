// Package memory provides the bounded in-process queue feeding path workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of canonical records with context-aware operations.
// Only the producer may call Close.
type Queue struct {
	ch      chan mirror.CanonicalRecord
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan mirror.CanonicalRecord, capacity),
	}
}

// Enqueue pushes a record into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, rec mirror.CanonicalRecord) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- rec:
		return nil
	}
}

// Dequeue pops the next record, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (mirror.CanonicalRecord, error) {
	select {
	case <-ctx.Done():
		return mirror.CanonicalRecord{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case rec, ok := <-q.ch:
		if !ok {
			return mirror.CanonicalRecord{}, ErrClosed
		}
		return rec, nil
	}
}

// Close closes the underlying channel; queued records can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
