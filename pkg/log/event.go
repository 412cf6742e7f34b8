package log

import (
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Role is the socket role of the local end of the connection.
	Role wire.Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire and dispatch layers
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection lifecycle
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Topic returns the message topic of the event, or "" if it carries none.
func (e Event) Topic() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Topic
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the frame decoding layer.
	LayerWire Layer = 1
	// LayerDispatch is the notification dispatch layer (coalescing flushes).
	LayerDispatch Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerDispatch:
		return "DISPATCH"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a publish, request or reply.
	CategoryMessage Category = 0
	// CategoryControl indicates a handshake, subscription or close frame.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// CategoryOf returns the capture category of a frame kind.
func CategoryOf(kind wire.Kind) Category {
	switch kind {
	case wire.KindPublish, wire.KindRequest, wire.KindReply:
		return CategoryMessage
	default:
		return CategoryControl
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded frame.
type MessageEvent struct {
	// Kind is the frame kind.
	Kind wire.Kind `cbor:"1,keyasint"`

	// Topic is the frame topic or subscription prefix.
	Topic string `cbor:"2,keyasint,omitempty"`

	// PayloadSize is the encoded payload length in bytes.
	PayloadSize int `cbor:"3,keyasint,omitempty"`

	// Payload is the decoded payload, when decoding succeeded.
	Payload any `cbor:"4,keyasint,omitempty"`

	// Body is the reply text for reply frames.
	Body string `cbor:"5,keyasint,omitempty"`
}

// NewMessageEvent builds a message event from a frame, decoding its payload
// when possible.
func NewMessageEvent(f *wire.Frame) *MessageEvent {
	msg := &MessageEvent{
		Kind:        f.Kind,
		Topic:       f.Topic,
		PayloadSize: len(f.Payload),
		Body:        f.Body,
	}
	if payload, err := wire.DecodePayload(f.Payload); err == nil {
		msg.Payload = payload
	}
	return msg
}

// StateChangeEvent captures connection lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySubscription indicates a prefix was added or removed.
	StateEntitySubscription StateEntity = 1
	// StateEntityScheduler indicates a coalescing window opened or closed.
	StateEntityScheduler StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	case StateEntityScheduler:
		return "SCHEDULER"
	default:
		return "UNKNOWN"
	}
}

// Connection states recorded in StateChangeEvent.
const (
	StateConnecting   = "CONNECTING"
	StateConnected    = "CONNECTED"
	StateDisconnected = "DISCONNECTED"
)

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
