// Package transport implements the TCP transport between clients and the
// IPC backbone.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   wire.Frame (CBOR)            │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Connection Setup
//
// A client dials, sends a hello frame naming its role (publisher,
// subscriber or requester) and waits for the welcome frame. Only then is
// the port returned; on any failure the socket is closed. With
// DialConfig.BlockUntilConnected the dial retries with backoff while the
// backbone is unreachable, until the context ends.
//
// # Subscriptions
//
// Subscribe and unsubscribe frames are acknowledged by the backbone once
// the prefix set of the connection has changed, so a returned Subscribe
// means later publishes under the prefix will be delivered.
//
// There is no keep-alive and no reconnect: a broken connection surfaces as
// port.ErrTransport on the next operation.
package transport
