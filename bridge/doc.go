// Package bridge connects a relay broker to Watermill.
//
// A Forwarder is an ordinary relay handler that republishes the envelopes it
// receives on a Watermill topic. An Ingester subscribes to a Watermill topic
// and sends every message it reads into a broker, addressed by the
// relay_destination header.
//
// Payloads that implement proto.Message travel as protojson; everything else
// is encoded as JSON. The relay_content_type header tells the two apart.
package bridge
