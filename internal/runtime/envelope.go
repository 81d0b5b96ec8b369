package runtime

import (
	"fmt"
	"weak"

	"github.com/drblury/relay/internal/runtime/registry"
)

// DestinationID identifies a destination inside one broker.
type DestinationID = registry.DestinationID

// Reserved destinations.
const (
	Drop      = registry.Drop
	Broadcast = registry.Broadcast
)

// Envelope is the immutable unit of delivery. The sender is held weakly so an
// envelope parked in a mailbox never keeps an otherwise unreachable subscriber alive.
type Envelope struct {
	sender      weak.Pointer[Subscriber]
	destination DestinationID
	payload     any
}

// NewEnvelope builds an envelope without a sender.
func NewEnvelope(destination DestinationID, payload any) Envelope {
	return Envelope{destination: destination, payload: payload}
}

// NewEnvelopeFrom builds an envelope that records sender as its origin.
func NewEnvelopeFrom(sender *Subscriber, destination DestinationID, payload any) Envelope {
	env := NewEnvelope(destination, payload)
	if sender != nil {
		env.sender = weak.Make(sender)
	}
	return env
}

// Sender returns the sending subscriber, or nil when there is none or it has
// been garbage collected.
func (e Envelope) Sender() *Subscriber {
	return e.sender.Value()
}

func (e Envelope) Destination() DestinationID { return e.destination }

func (e Envelope) Payload() any { return e.payload }

func (e Envelope) String() string {
	sender := "-"
	if s := e.Sender(); s != nil {
		sender = s.Name()
	}
	return fmt.Sprintf("Envelope{sender=%s destination=%s payload=%v}", sender, e.destination, e.payload)
}

// PayloadAs returns the payload as T when it holds a T.
func PayloadAs[T any](e Envelope) (T, bool) {
	v, ok := e.payload.(T)
	return v, ok
}
