package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	runtimepkg "github.com/drblury/relay/internal/runtime"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
)

// Ingester reads a Watermill topic and sends each message into a broker.
type Ingester struct {
	broker      *runtimepkg.Broker
	subscriber  message.Subscriber
	topic       string
	decode      Decoder
	destination string
	logger      loggingpkg.ServiceLogger
}

// IngesterOption customises an Ingester.
type IngesterOption func(*Ingester)

// WithDecoder replaces the default DecodeRaw decoder.
func WithDecoder(decode Decoder) IngesterOption {
	return func(i *Ingester) {
		if decode != nil {
			i.decode = decode
		}
	}
}

// WithDefaultDestination addresses messages that carry no destination header.
// Without it such messages go to DROP.
func WithDefaultDestination(name string) IngesterOption {
	return func(i *Ingester) {
		i.destination = name
	}
}

// WithIngesterLogger sets the logger used for decode and delivery failures.
func WithIngesterLogger(logger loggingpkg.ServiceLogger) IngesterOption {
	return func(i *Ingester) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIngester validates its collaborators and applies opts.
func NewIngester(broker *runtimepkg.Broker, subscriber message.Subscriber, topic string, opts ...IngesterOption) (*Ingester, error) {
	if broker == nil {
		return nil, errspkg.ErrBrokerRequired
	}
	if subscriber == nil {
		return nil, errspkg.ErrSourceRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}

	i := &Ingester{
		broker:     broker,
		subscriber: subscriber,
		topic:      topic,
		decode:     DecodeRaw,
		logger:     loggingpkg.NopServiceLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	i.logger = i.logger.With(loggingpkg.LogFields{"topic": topic})
	return i, nil
}

// Run subscribes to the topic and sends messages into the broker until ctx
// is cancelled or the broker shuts down. Messages that fail to decode are
// acked and skipped; the message that found the broker shut down is nacked.
func (i *Ingester) Run(ctx context.Context) error {
	messages, err := i.subscriber.Subscribe(ctx, i.topic)
	if err != nil {
		return fmt.Errorf("relay: subscribe to %s: %w", i.topic, err)
	}
	i.logger.Info("Ingesting topic", nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			if err := i.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (i *Ingester) handle(ctx context.Context, msg *message.Message) error {
	if err := i.deliver(ctx, msg); err != nil {
		msg.Nack()
		return err
	}
	msg.Ack()
	return nil
}

// deliver decodes msg and sends it into the broker. Only a shut down broker
// is reported; decode and handler failures are logged and swallowed so the
// message is not redelivered.
func (i *Ingester) deliver(ctx context.Context, msg *message.Message) error {
	fields := loggingpkg.LogFields{"message_uuid": msg.UUID}

	payload, err := i.decode(msg)
	if err != nil {
		i.logger.Error("Failed to decode message, skipping", err, fields)
		return nil
	}

	err = i.broker.Send(ctx, i.envelope(msg, payload))
	if errors.Is(err, errspkg.ErrBrokerShutdown) {
		return err
	}
	if err != nil {
		i.logger.Error("Delivery failed", err, fields)
	}
	return nil
}

func (i *Ingester) envelope(msg *message.Message, payload any) runtimepkg.Envelope {
	destination := metadatapkg.FromWatermill(msg.Metadata).Destination()
	if destination == "" {
		destination = i.destination
	}
	if destination == "" {
		return runtimepkg.NewEnvelope(runtimepkg.Drop, payload)
	}
	return i.broker.EnvelopeTo(destination, payload)
}
