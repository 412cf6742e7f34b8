package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Wire errors.
var (
	ErrInvalidKind  = errors.New("invalid frame kind")
	ErrMissingTopic = errors.New("frame requires a topic")
	ErrEncode       = errors.New("payload encoding failed")
	ErrDecode       = errors.New("payload decoding failed")
)

// Kind identifies the purpose of a frame.
type Kind uint8

const (
	// KindPublish carries a topic and payload from a publisher, and from the
	// backbone to matching subscribers.
	KindPublish Kind = iota + 1

	// KindSubscribe adds a topic prefix to a subscriber connection.
	KindSubscribe

	// KindUnsubscribe removes a topic prefix from a subscriber connection.
	KindUnsubscribe

	// KindAck confirms a subscribe or unsubscribe was applied.
	KindAck

	// KindRequest is a command or notification sent to the request endpoint.
	KindRequest

	// KindReply answers exactly one request.
	KindReply

	// KindHello opens a connection and declares the client role.
	KindHello

	// KindWelcome confirms the connection is established.
	KindWelcome

	// KindClose announces an orderly shutdown.
	KindClose
)

// String returns the frame kind name.
func (k Kind) String() string {
	switch k {
	case KindPublish:
		return "PUBLISH"
	case KindSubscribe:
		return "SUBSCRIBE"
	case KindUnsubscribe:
		return "UNSUBSCRIBE"
	case KindAck:
		return "ACK"
	case KindRequest:
		return "REQUEST"
	case KindReply:
		return "REPLY"
	case KindHello:
		return "HELLO"
	case KindWelcome:
		return "WELCOME"
	case KindClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Role is the socket pattern a client connection plays.
type Role uint8

const (
	// RoleUnknown is the zero value and never valid in a hello.
	RoleUnknown Role = iota

	// RolePublisher sends publish frames.
	RolePublisher

	// RoleSubscriber receives publish frames for its prefixes.
	RoleSubscriber

	// RoleRequester sends requests and waits for replies.
	RoleRequester
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "PUB"
	case RoleSubscriber:
		return "SUB"
	case RoleRequester:
		return "REQ"
	default:
		return "UNKNOWN"
	}
}

// Frame is the single envelope exchanged between clients and the backbone.
// CBOR encoding uses integer keys for compactness.
type Frame struct {
	// Kind identifies the frame purpose.
	Kind Kind `cbor:"1,keyasint"`

	// Topic is the publish/request topic or the subscribe prefix.
	Topic string `cbor:"2,keyasint,omitempty"`

	// Payload is the encoded message body.
	Payload cbor.RawMessage `cbor:"3,keyasint,omitempty"`

	// Role is set on hello frames.
	Role Role `cbor:"4,keyasint,omitempty"`

	// Body is the textual reply to a request.
	Body string `cbor:"5,keyasint,omitempty"`
}

// Validate checks the frame is structurally sound for its kind.
func (f *Frame) Validate() error {
	switch f.Kind {
	case KindPublish, KindRequest:
		if f.Topic == "" {
			return fmt.Errorf("%w: %s", ErrMissingTopic, f.Kind)
		}
	case KindHello:
		if f.Role == RoleUnknown || f.Role > RoleRequester {
			return fmt.Errorf("%w: hello without role", ErrInvalidKind)
		}
	case KindSubscribe, KindUnsubscribe, KindAck, KindReply, KindWelcome, KindClose:
		// An empty subscribe prefix matches every topic.
	default:
		return fmt.Errorf("%w: %d", ErrInvalidKind, f.Kind)
	}
	return nil
}

// NewPublish builds a publish frame.
func NewPublish(topic string, payload []byte) *Frame {
	return &Frame{Kind: KindPublish, Topic: topic, Payload: payload}
}

// NewRequest builds a request frame. Commands carry no payload.
func NewRequest(topic string, payload []byte) *Frame {
	return &Frame{Kind: KindRequest, Topic: topic, Payload: payload}
}

// NewReply builds a reply frame.
func NewReply(body string) *Frame {
	return &Frame{Kind: KindReply, Body: body}
}
