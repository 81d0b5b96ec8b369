package mailbox

import (
	"context"
	"time"
)

// Bounded is a fixed capacity mailbox backed by a buffered channel. A producer
// blocked in EnqueueWait is woken by the channel itself as soon as the
// consumer frees a slot.
type Bounded[T any] struct {
	items chan T
}

// NewBounded returns a mailbox holding at most capacity items.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		panic("mailbox: bounded capacity must be positive")
	}
	return &Bounded[T]{items: make(chan T, capacity)}
}

func (b *Bounded[T]) Enqueue(item T) bool {
	select {
	case b.items <- item:
		return true
	default:
		return false
	}
}

func (b *Bounded[T]) EnqueueWait(ctx context.Context, item T) error {
	if b.Enqueue(item) {
		return nil
	}
	select {
	case b.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bounded[T]) Dequeue(ctx context.Context, timeout time.Duration) (T, bool) {
	select {
	case item := <-b.items:
		return item, true
	default:
	}

	var zero T
	if timeout <= 0 {
		return zero, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-b.items:
		return item, true
	case <-timer.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

func (b *Bounded[T]) IsEmpty() bool { return len(b.items) == 0 }
func (b *Bounded[T]) Len() int      { return len(b.items) }
func (b *Bounded[T]) Cap() int      { return cap(b.items) }
