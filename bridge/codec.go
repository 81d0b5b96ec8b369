package bridge

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/relay/internal/runtime"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// NewMessage converts env into a Watermill message. destination is the name
// the envelope was addressed to; extra is merged under the reserved headers.
func NewMessage(env runtimepkg.Envelope, destination string, extra metadatapkg.Metadata) (*message.Message, error) {
	payload, contentType, payloadType, err := encodePayload(env.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope payload: %w", err)
	}

	headers := extra.WithAll(metadatapkg.Metadata{
		metadatapkg.KeyDestinationID: strconv.FormatUint(uint64(env.Destination()), 10),
		metadatapkg.KeyContentType:   contentType,
		metadatapkg.KeyForwardedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}).
		With(metadatapkg.KeyDestination, destination).
		With(metadatapkg.KeyPayloadType, payloadType)
	if sender := env.Sender(); sender != nil {
		headers = headers.With(metadatapkg.KeySender, sender.Name())
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	headers.Stamp(msg)
	return msg, nil
}

func encodePayload(payload any) ([]byte, string, string, error) {
	if event, ok := payload.(proto.Message); ok {
		data, err := protoJSONMarshalOptions.Marshal(event)
		return data, metadatapkg.ContentTypeProtoJSON, string(proto.MessageName(event)), err
	}
	data, err := jsoncodec.Marshal(payload)
	if payload == nil {
		return data, metadatapkg.ContentTypeJSON, "", err
	}
	return data, metadatapkg.ContentTypeJSON, fmt.Sprintf("%T", payload), err
}

// Decoder turns a Watermill message into an envelope payload.
type Decoder func(msg *message.Message) (any, error)

// DecodeRaw hands the message body to subscribers as a byte slice.
func DecodeRaw(msg *message.Message) (any, error) {
	return []byte(msg.Payload), nil
}

// DecodeJSON unmarshals the body into a T and delivers the value.
func DecodeJSON[T any]() Decoder {
	return func(msg *message.Message) (any, error) {
		var v T
		if err := jsoncodec.Unmarshal(msg.Payload, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %T payload: %w", v, err)
		}
		return v, nil
	}
}

// DecodeProto unmarshals protojson bodies into a fresh message from factory.
// Messages whose content type is not protojson are rejected.
func DecodeProto[T proto.Message](factory func() T) Decoder {
	return func(msg *message.Message) (any, error) {
		if !metadatapkg.FromWatermill(msg.Metadata).IsProto() {
			return nil, fmt.Errorf("unexpected content type %q", msg.Metadata.Get(metadatapkg.KeyContentType))
		}
		event := factory()
		if err := protoJSONUnmarshalOptions.Unmarshal(msg.Payload, event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", proto.MessageName(event), err)
		}
		return event, nil
	}
}
