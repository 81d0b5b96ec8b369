package bridge

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	runtimepkg "github.com/drblury/relay/internal/runtime"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
)

// Forwarder publishes every envelope it handles to a Watermill topic.
type Forwarder struct {
	broker    *runtimepkg.Broker
	publisher message.Publisher
	topic     string
	metadata  metadatapkg.Metadata
	logger    loggingpkg.ServiceLogger
}

// ForwarderOption customises a Forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger sets the logger used for publish diagnostics.
func WithForwarderLogger(logger loggingpkg.ServiceLogger) ForwarderOption {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetadata attaches md to every published message. Reserved keys win.
func WithMetadata(md metadatapkg.Metadata) ForwarderOption {
	return func(f *Forwarder) {
		f.metadata = f.metadata.WithAll(md)
	}
}

// NewForwarder returns a handler that publishes to topic. The broker is used
// to translate destination ids back to names.
func NewForwarder(broker *runtimepkg.Broker, publisher message.Publisher, topic string, opts ...ForwarderOption) (*Forwarder, error) {
	if broker == nil {
		return nil, errspkg.ErrBrokerRequired
	}
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}

	f := &Forwarder{
		broker:    broker,
		publisher: publisher,
		topic:     topic,
		metadata:  metadatapkg.Metadata{},
		logger:    loggingpkg.NopServiceLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.logger = f.logger.With(loggingpkg.LogFields{"topic": topic})
	return f, nil
}

// OnMessage implements the relay Handler interface.
func (f *Forwarder) OnMessage(ctx context.Context, env runtimepkg.Envelope) error {
	destination, _ := f.broker.Registry().Name(env.Destination())

	msg, err := NewMessage(env, destination, f.metadata)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	if err := f.publisher.Publish(f.topic, msg); err != nil {
		return fmt.Errorf("relay: publish to %s: %w", f.topic, err)
	}

	f.logger.Debug("Envelope forwarded", loggingpkg.LogFields{
		"destination":  destination,
		"message_uuid": msg.UUID,
	})
	return nil
}

// Forward creates a subscriber named name that forwards everything it
// receives to topic and registers it with broker. Use RegisterExtraType on
// the result to forward additional destinations.
func Forward(broker *runtimepkg.Broker, name string, mode runtimepkg.Mode, publisher message.Publisher, topic string, opts ...ForwarderOption) (*runtimepkg.Subscriber, error) {
	forwarder, err := NewForwarder(broker, publisher, topic, opts...)
	if err != nil {
		return nil, err
	}
	sub, err := runtimepkg.NewSubscriber(broker, name, mode, forwarder)
	if err != nil {
		return nil, err
	}
	if err := sub.RegisterListener(); err != nil {
		return nil, err
	}
	return sub, nil
}
