package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill reads the relay headers carried by a bridged message. The
// result is a copy and never nil.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	maps.Copy(out, md)
	return out
}

// Stamp writes md onto msg. Keys already set on msg are overwritten, others
// are left alone.
func (md Metadata) Stamp(msg *message.Message) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(md))
	}
	maps.Copy(msg.Metadata, md)
}
