package runtime

import "context"

// Handler receives envelopes delivered to a subscriber.
//
// For direct modes ctx is the sender's context and any Send made with it is
// queued behind the envelope being handled. For queued modes ctx is cancelled
// when the broker force-stops its workers.
//
// Sends made from inside OnMessage must pass the ctx the handler was given.
// A DirectSynced handler that reaches itself through a fresh context, such as
// context.Background(), blocks on its own lock forever.
type Handler interface {
	OnMessage(ctx context.Context, env Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) error

func (f HandlerFunc) OnMessage(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}
