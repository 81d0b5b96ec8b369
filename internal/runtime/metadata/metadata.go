// Package metadata holds the headers attached to envelopes when they leave
// the broker through the Watermill bridge, and the keys reserved for them.
package metadata

// Reserved keys written by the bridge. Custom metadata should not reuse them.
const (
	// KeyDestination carries the destination name the envelope was addressed to.
	KeyDestination = "relay_destination"
	// KeyDestinationID carries the numeric destination id of the origin broker.
	KeyDestinationID = "relay_destination_id"
	// KeySender carries the name of the sending subscriber, if any.
	KeySender = "relay_sender"
	// KeyPayloadType identifies the Go type or proto full name of the payload.
	KeyPayloadType = "relay_payload_type"
	// KeyContentType is either ContentTypeJSON or ContentTypeProtoJSON.
	KeyContentType = "relay_content_type"
	// KeyForwardedAt records when the bridge forwarded the envelope (RFC3339Nano).
	KeyForwardedAt = "relay_forwarded_at"
)

// Content types written under KeyContentType.
const (
	ContentTypeJSON      = "application/json"
	ContentTypeProtoJSON = "application/protojson"
)

// Metadata represents the headers carried alongside a bridged envelope.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Destination returns the destination name header.
func (m Metadata) Destination() string { return m[KeyDestination] }

// Sender returns the sender name header.
func (m Metadata) Sender() string { return m[KeySender] }

// IsProto reports whether the payload was encoded with protojson.
func (m Metadata) IsProto() bool { return m[KeyContentType] == ContentTypeProtoJSON }

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
