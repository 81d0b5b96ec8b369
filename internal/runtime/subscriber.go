package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/mailbox"
	"github.com/drblury/relay/internal/runtime/registry"
)

// Subscriber is the broker-side context of one message handling unit.
//
// Queued subscribers own a mailbox and a running flag. The flag flips from
// idle to active exactly once per activation, by whoever enqueued into an
// idle mailbox, and only that caller submits a worker. At most one worker
// therefore drains a mailbox at any time.
type Subscriber struct {
	broker  *Broker
	name    string
	mode    Mode
	handler Handler
	logger  loggingpkg.ServiceLogger
	stats   *SubscriberStats

	// serializes DirectSynced deliveries
	mu sync.Mutex

	mailboxOnce sync.Once
	mailbox     mailbox.Mailbox[Envelope]
	running     atomic.Bool

	attached atomic.Bool
	// guarded by broker.writeMu
	destinations map[DestinationID]struct{}
}

// NewSubscriber creates a subscriber bound to broker. An empty name is
// replaced by a generated one; the reserved destination names are refused.
func NewSubscriber(broker *Broker, name string, mode Mode, handler Handler) (*Subscriber, error) {
	if broker == nil {
		return nil, errspkg.ErrBrokerRequired
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrInvalidMode, mode)
	}
	if name == "" {
		name = ids.SubscriberName()
	}
	if registry.IsReserved(name) {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrReservedName, name)
	}

	return &Subscriber{
		broker:       broker,
		name:         name,
		mode:         mode,
		handler:      handler,
		logger:       broker.logger.With(loggingpkg.LogFields{"subscriber": name, "mode": mode.String()}),
		stats:        newSubscriberStats(),
		destinations: make(map[DestinationID]struct{}),
	}, nil
}

func (s *Subscriber) Name() string { return s.name }

func (s *Subscriber) Mode() Mode { return s.mode }

// Broker returns the broker the subscriber was created for.
func (s *Subscriber) Broker() *Broker { return s.broker }

// RegisterListener subscribes to the subscriber's own name and to Broadcast.
func (s *Subscriber) RegisterListener() error {
	return s.broker.RegisterListener(s)
}

// RegisterExtraType additionally subscribes to the destination called name.
func (s *Subscriber) RegisterExtraType(name string) error {
	return s.broker.RegisterExtraType(s, name)
}

// UnregisterListener removes the subscriber from every destination.
func (s *Subscriber) UnregisterListener() {
	s.broker.UnregisterListener(s)
}

// SendMessage sends env through the subscriber's broker. Called from a
// handler, ctx must be the one the handler received; a DirectSynced
// subscriber that sends to itself with any other context deadlocks.
func (s *Subscriber) SendMessage(ctx context.Context, env Envelope) error {
	return s.broker.Send(ctx, env)
}

// EnvelopeTo builds an envelope from this subscriber to the destination called name.
func (s *Subscriber) EnvelopeTo(name string, payload any) Envelope {
	return NewEnvelopeFrom(s, s.broker.resolve(name), payload)
}

// Destinations returns the names of the destinations the subscriber is registered under.
func (s *Subscriber) Destinations() []string {
	s.broker.writeMu.Lock()
	out := make([]string, 0, len(s.destinations))
	for id := range s.destinations {
		if name, ok := s.broker.registry.Name(id); ok {
			out = append(out, name)
		}
	}
	s.broker.writeMu.Unlock()

	sort.Strings(out)
	return out
}

// IsRegistered reports whether the subscriber is attached to its broker.
func (s *Subscriber) IsRegistered() bool {
	return s.attached.Load()
}

// Stats returns a snapshot of the delivery statistics.
func (s *Subscriber) Stats() StatsSnapshot {
	snap := s.stats.snapshot()

	s.broker.writeMu.Lock()
	mb := s.mailbox
	s.broker.writeMu.Unlock()
	if mb != nil {
		snap.Backlog.MailboxDepth = mb.Len()
		snap.Backlog.MailboxCapacity = mb.Cap()
	}
	return snap
}

func (s *Subscriber) String() string {
	return fmt.Sprintf("Subscriber{name=%s mode=%s}", s.name, s.mode)
}

// ensureMailbox creates the mailbox of a queued subscriber. It runs once per
// subscriber, so a mailbox is never replaced. Called with broker.writeMu held.
func (s *Subscriber) ensureMailbox(boundedCapacity int) {
	if !s.mode.IsQueued() {
		return
	}
	s.mailboxOnce.Do(func() {
		switch s.mode {
		case QueuedBounded:
			s.mailbox = mailbox.NewBounded[Envelope](boundedCapacity)
		default:
			s.mailbox = mailbox.NewUnbounded[Envelope]()
		}
	})
}

// purgeMailbox empties the mailbox of a detached subscriber and returns how
// many envelopes it discarded. Called with broker.writeMu held.
func (s *Subscriber) purgeMailbox() int {
	if s.mailbox == nil {
		return 0
	}
	n := 0
	for {
		if _, ok := s.mailbox.Dequeue(context.Background(), 0); !ok {
			return n
		}
		s.stats.onDropped()
		s.broker.metrics.recordDropped(s.name)
		n++
	}
}

// reportDepth publishes the mailbox depth gauge while the subscriber is
// attached. The gauge is removed on unregister and must stay removed.
func (s *Subscriber) reportDepth() {
	if s.attached.Load() {
		s.broker.metrics.setMailboxDepth(s.name, s.mailbox.Len())
	}
}

// enqueue hands env to the mailbox, blocking on a full bounded mailbox until
// space frees up, ctx ends or the broker stops.
func (s *Subscriber) enqueue(ctx context.Context, env Envelope) error {
	b := s.broker
	if !s.mailbox.Enqueue(env) {
		b.metrics.recordBackpressure(s.name)
		s.logger.Debug("Mailbox full, waiting for capacity", loggingpkg.LogFields{"capacity": s.mailbox.Cap()})

		waitCtx, cancel := context.WithCancel(ctx)
		release := context.AfterFunc(b.pool.stopCtx, cancel)
		err := s.mailbox.EnqueueWait(waitCtx, env)
		release()
		cancel()
		if err != nil {
			if b.pool.stopCtx.Err() != nil {
				return errspkg.ErrBrokerShutdown
			}
			return fmt.Errorf("relay: enqueue to %s: %w", s.name, err)
		}
	}
	s.reportDepth()
	s.activate()
	return nil
}

// activate performs the idle to active transition when this caller wins it.
func (s *Subscriber) activate() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	if !s.broker.pool.submit(s.drain) {
		s.running.Store(false)
	}
}

// drain is the worker body. After the mailbox runs dry it releases the flag
// and looks once more, since an enqueue that saw the flag still set relies on
// this worker to pick its envelope up.
func (s *Subscriber) drain(stop, kill context.Context) {
	for {
		s.drainMailbox(stop, kill)
		s.running.Store(false)

		if kill.Err() != nil || s.mailbox.IsEmpty() {
			return
		}
		if !s.running.CompareAndSwap(false, true) {
			return
		}
	}
}

func (s *Subscriber) drainMailbox(stop, kill context.Context) {
	timeout := s.broker.conf.DequeueTimeout
	for kill.Err() == nil {
		env, ok := s.mailbox.Dequeue(stop, timeout)
		if !ok {
			return
		}
		s.reportDepth()
		s.deliverQueued(kill, env)
	}
}

// deliverQueued runs the handler for one mailbox envelope. A failing or
// panicking handler consumes the envelope; invoke has already accounted for
// the panic, so it is only logged here.
func (s *Subscriber) deliverQueued(ctx context.Context, env Envelope) {
	if !s.attached.Load() {
		s.stats.onDropped()
		s.broker.metrics.recordDropped(s.name)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			err := &HandlerPanicError{Subscriber: s.name, Value: r}
			s.logger.Error("Handler panicked, envelope discarded", err, loggingpkg.LogFields{
				"destination": env.Destination().String(),
				"stack":       string(debug.Stack()),
			})
		}
	}()

	if err := s.invoke(ctx, env); err != nil {
		s.logger.Error("Handler failed, envelope discarded", err, loggingpkg.LogFields{
			"destination": env.Destination().String(),
		})
	}
}

// deliverDirect runs the handler on the calling goroutine.
func (s *Subscriber) deliverDirect(ctx context.Context, env Envelope) error {
	if !s.attached.Load() {
		return nil
	}
	if s.mode == DirectSynced {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	if err := s.invoke(ctx, env); err != nil {
		return fmt.Errorf("subscriber %s: %w", s.name, err)
	}
	return nil
}

// invoke runs the handler with tracing, hooks and accounting around it. A
// panic is recorded as a HandlerPanicError and then re-raised.
func (s *Subscriber) invoke(ctx context.Context, env Envelope) (err error) {
	b := s.broker
	ctx, span := b.tracer.Start(ctx, "relay.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("relay.subscriber", s.name),
			attribute.String("relay.mode", s.mode.String()),
			attribute.String("relay.destination", env.Destination().String()),
		),
	)
	defer span.End()

	dc := DeliveryContext{Subscriber: s.name, Mode: s.mode, Envelope: env, Context: ctx, StartedAt: time.Now()}
	b.hooks.start(dc)
	s.stats.onDeliveryStart()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicErr := &HandlerPanicError{Subscriber: s.name, Value: r}
		dc.Duration = time.Since(dc.StartedAt)
		s.stats.onDeliveryFinish(dc.Duration, panicErr)
		b.metrics.recordPanic(s.name)
		b.metrics.recordDelivery(s.name, s.mode, dc.Duration, panicErr)
		b.hooks.finish(dc, panicErr)
		span.RecordError(panicErr)
		span.SetStatus(codes.Error, panicErr.Error())
		panic(r)
	}()

	err = s.handler.OnMessage(ctx, env)

	dc.Duration = time.Since(dc.StartedAt)
	s.stats.onDeliveryFinish(dc.Duration, err)
	b.metrics.recordDelivery(s.name, s.mode, dc.Duration, err)
	b.hooks.finish(dc, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
