// Package mailbox provides the per-subscriber queues that feed queued
// delivery. Both implementations accept any number of producers; the broker
// guarantees a single consumer per mailbox.
package mailbox

import (
	"context"
	"time"
)

// Unlimited is reported by Cap for mailboxes without a capacity bound.
const Unlimited = -1

// Mailbox is a FIFO queue with a non-blocking enqueue and a bounded wait dequeue.
type Mailbox[T any] interface {
	// Enqueue adds item without blocking. It returns false when the mailbox is full.
	Enqueue(item T) bool
	// EnqueueWait adds item, blocking while the mailbox is full until space frees
	// up or ctx is done.
	EnqueueWait(ctx context.Context, item T) error
	// Dequeue removes the oldest item, waiting up to timeout for one to arrive.
	// It returns false on timeout or when ctx is done.
	Dequeue(ctx context.Context, timeout time.Duration) (T, bool)
	IsEmpty() bool
	Len() int
	// Cap returns the capacity, or Unlimited.
	Cap() int
}

// New returns a bounded mailbox when capacity is positive and an unbounded one otherwise.
func New[T any](capacity int) Mailbox[T] {
	if capacity > 0 {
		return NewBounded[T](capacity)
	}
	return NewUnbounded[T]()
}
