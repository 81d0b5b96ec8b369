package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
)

// DeliveryContext describes one handler invocation to hooks.
type DeliveryContext struct {
	// Subscriber is the name of the receiving subscriber.
	Subscriber string
	// Mode is the receiving subscriber's delivery mode.
	Mode Mode
	// Envelope is the envelope being delivered.
	Envelope Envelope
	// Context is the context handed to the handler.
	Context context.Context
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnDeliveryDone and OnDeliveryError).
	Duration time.Duration
}

// DeliveryHooks defines callbacks around handler invocations.
// All hooks are optional - nil hooks are simply not called.
type DeliveryHooks struct {
	// OnDeliveryStart is called right before the handler runs.
	OnDeliveryStart func(ctx DeliveryContext)

	// OnDeliveryDone is called when the handler returns nil.
	OnDeliveryDone func(ctx DeliveryContext)

	// OnDeliveryError is called when the handler returns an error or panics.
	// A panic arrives as a *HandlerPanicError.
	OnDeliveryError func(ctx DeliveryContext, err error)
}

// Merge combines two DeliveryHooks, creating a new DeliveryHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: chainHooks(h.OnDeliveryStart, other.OnDeliveryStart),
		OnDeliveryDone:  chainHooks(h.OnDeliveryDone, other.OnDeliveryDone),
		OnDeliveryError: chainErrorHooks(h.OnDeliveryError, other.OnDeliveryError),
	}
}

func chainHooks(a, b func(DeliveryContext)) func(DeliveryContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DeliveryContext, error)) func(DeliveryContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h DeliveryHooks) start(ctx DeliveryContext) {
	if h.OnDeliveryStart != nil {
		h.OnDeliveryStart(ctx)
	}
}

func (h DeliveryHooks) finish(ctx DeliveryContext, err error) {
	if err != nil {
		if h.OnDeliveryError != nil {
			h.OnDeliveryError(ctx, err)
		}
		return
	}
	if h.OnDeliveryDone != nil {
		h.OnDeliveryDone(ctx)
	}
}

// LoggingHooks returns hooks that trace every delivery and log failures.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: func(ctx DeliveryContext) {
			logger.Trace("Delivery started", loggingpkg.LogFields{
				"subscriber":  ctx.Subscriber,
				"mode":        ctx.Mode.String(),
				"destination": ctx.Envelope.Destination().String(),
			})
		},
		OnDeliveryDone: func(ctx DeliveryContext) {
			logger.Trace("Delivery completed", loggingpkg.LogFields{
				"subscriber":  ctx.Subscriber,
				"mode":        ctx.Mode.String(),
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnDeliveryError: func(ctx DeliveryContext, err error) {
			logger.Error("Delivery failed", err, loggingpkg.LogFields{
				"subscriber":  ctx.Subscriber,
				"mode":        ctx.Mode.String(),
				"destination": ctx.Envelope.Destination().String(),
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that forward delivery events to custom counters.
func MetricsHooks(onStart, onDone, onError func(subscriber string, mode Mode)) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: func(ctx DeliveryContext) {
			if onStart != nil {
				onStart(ctx.Subscriber, ctx.Mode)
			}
		},
		OnDeliveryDone: func(ctx DeliveryContext) {
			if onDone != nil {
				onDone(ctx.Subscriber, ctx.Mode)
			}
		},
		OnDeliveryError: func(ctx DeliveryContext, err error) {
			if onError != nil {
				onError(ctx.Subscriber, ctx.Mode)
			}
		},
	}
}

// AlertingHooks returns hooks that trigger alerts on delivery errors.
func AlertingHooks(alertFunc func(ctx DeliveryContext, err error)) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryError: alertFunc,
	}
}
