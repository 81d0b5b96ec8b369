package runtime

import (
	"context"
	"errors"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
)

// Send delivers env to every subscriber of its destination.
//
// Direct subscribers run before Send returns; queued subscribers receive env
// in their mailbox. When ctx already belongs to a dispatch, typically because
// a direct handler is sending with the context it was given, env is queued
// behind the envelopes of that dispatch and Send returns at once. The
// outermost Send drains the queue in FIFO order and returns the joined
// errors of every direct handler it ran.
//
// After Shutdown, Send returns ErrBrokerShutdown and delivers nothing.
func (b *Broker) Send(ctx context.Context, env Envelope) error {
	if b.shutdown.Load() {
		b.metrics.recordRejected()
		return errspkg.ErrBrokerShutdown
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.metrics.recordSend()

	if t := trampolineFrom(ctx); t != nil && t.push(env) {
		return nil
	}

	t := newTrampoline()
	t.push(env)
	return b.drain(withTrampoline(ctx, t), t)
}

func (b *Broker) drain(ctx context.Context, t *trampoline) error {
	defer t.close()

	var errs []error
	for {
		env, ok := t.next()
		if !ok {
			return errors.Join(errs...)
		}
		if b.shutdown.Load() {
			b.logger.Debug("Broker shut down, discarding pending envelopes", loggingpkg.LogFields{
				"discarded": t.len() + 1,
			})
			return errors.Join(errs...)
		}
		if err := b.dispatch(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
}

func (b *Broker) dispatch(ctx context.Context, env Envelope) error {
	var errs []error
	for _, sub := range b.subscribersOf(env.Destination()) {
		if err := b.deliver(ctx, sub, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Broker) deliver(ctx context.Context, sub *Subscriber, env Envelope) error {
	switch sub.mode {
	case DirectUnsynced, DirectSynced:
		return sub.deliverDirect(ctx, env)
	case QueuedUnbounded, QueuedBounded:
		return sub.enqueue(ctx, env)
	default:
		return errspkg.ErrInvalidMode
	}
}
