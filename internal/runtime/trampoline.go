package runtime

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

type trampolineKey struct{}

// trampoline is the pending-envelope queue of one outermost Send. Nested sends
// made with a context carrying it are appended instead of dispatched, so a
// chain of handler-triggered sends runs as a loop rather than as recursion.
type trampoline struct {
	mu      sync.Mutex
	pending *queue.Queue
	closed  bool
}

func newTrampoline() *trampoline {
	return &trampoline{pending: queue.New()}
}

func trampolineFrom(ctx context.Context) *trampoline {
	t, _ := ctx.Value(trampolineKey{}).(*trampoline)
	return t
}

func withTrampoline(ctx context.Context, t *trampoline) context.Context {
	return context.WithValue(ctx, trampolineKey{}, t)
}

// push appends env unless the trampoline was already drained.
func (t *trampoline) push(env Envelope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.pending.Add(env)
	return true
}

// next pops the head. When nothing is left the trampoline closes in the same
// critical section, so a late push either lands before the close or fails.
func (t *trampoline) next() (Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending.Length() == 0 {
		t.closed = true
		return Envelope{}, false
	}
	env, _ := t.pending.Remove().(Envelope)
	return env, true
}

func (t *trampoline) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *trampoline) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.Length()
}
