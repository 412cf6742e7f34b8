// Package wire defines the CBOR wire format exchanged with the IPC backbone.
//
// Every transport frame is one CBOR-encoded Frame with integer keys. The
// message payload inside a frame is itself an opaque CBOR document, so the
// backbone can route it without decoding.
//
// # Frame Kinds
//
//   - Hello/Welcome: connection handshake, the client declares its role
//   - Publish: topic + payload, publisher to backbone and backbone to subscriber
//   - Subscribe/Unsubscribe/Ack: prefix management on subscriber connections
//   - Request/Reply: strict one-to-one exchange on requester connections
//   - Close: orderly shutdown
//
// # Payloads
//
// Payloads decode into generic Go values: maps become map[string]any and
// integers become int64, so a payload built from Go literals compares equal
// (by encoding) after a round trip.
package wire
