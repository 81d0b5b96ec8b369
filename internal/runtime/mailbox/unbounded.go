package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Unbounded is a mailbox limited only by memory. Items live in a ring buffer
// guarded by a mutex; notify carries at most one pending wake-up for a
// waiting consumer.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  *queue.Queue
	notify chan struct{}
}

// NewUnbounded returns an empty unbounded mailbox.
func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{
		items:  queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue always succeeds.
func (u *Unbounded[T]) Enqueue(item T) bool {
	u.mu.Lock()
	u.items.Add(item)
	u.mu.Unlock()

	select {
	case u.notify <- struct{}{}:
	default:
	}
	return true
}

func (u *Unbounded[T]) EnqueueWait(_ context.Context, item T) error {
	u.Enqueue(item)
	return nil
}

func (u *Unbounded[T]) Dequeue(ctx context.Context, timeout time.Duration) (T, bool) {
	if item, ok := u.pop(); ok {
		return item, true
	}

	var zero T
	if timeout <= 0 {
		return zero, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-u.notify:
			if item, ok := u.pop(); ok {
				return item, true
			}
		case <-timer.C:
			return u.pop()
		case <-ctx.Done():
			return zero, false
		}
	}
}

func (u *Unbounded[T]) pop() (T, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var zero T
	if u.items.Length() == 0 {
		return zero, false
	}
	item, _ := u.items.Remove().(T)
	return item, true
}

func (u *Unbounded[T]) IsEmpty() bool { return u.Len() == 0 }

func (u *Unbounded[T]) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.items.Length()
}

func (u *Unbounded[T]) Cap() int { return Unlimited }
