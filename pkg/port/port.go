// Package port defines the narrow transport contract the dispatch core
// depends on: topic-addressed publish, prefix subscription with receive,
// and a strict one-shot request/reply channel.
//
// Concrete implementations live in pkg/transport (TCP to the backbone),
// pkg/port/natsport and pkg/port/redisport.
package port

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transport errors.
var (
	// ErrTransport matches every I/O failure reported through a port.
	// Concrete failures are *TransportError values that match it with errors.Is.
	ErrTransport = errors.New("transport error")

	// ErrTimeout indicates a receive deadline elapsed with nothing to return.
	ErrTimeout = errors.New("timeout")

	// ErrUnsupported indicates the implementation cannot provide the pattern.
	ErrUnsupported = errors.New("operation not supported by transport")

	// ErrConnectionClosed is the cause recorded when a connection is
	// closed locally.
	ErrConnectionClosed = errors.New("connection closed")
)

// TransportError describes a failed transport operation.
type TransportError struct {
	// Op is the operation that failed ("dial", "send", "receive", ...).
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransport as a match.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Wrap returns err as a *TransportError for op. It returns nil for a nil
// error and leaves transport errors and timeouts untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) || errors.Is(err, ErrTimeout) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Publisher sends messages on topics.
type Publisher interface {
	// Send publishes payload on topic. Sends on one publisher are ordered.
	Send(topic string, payload []byte) error

	// Close releases the connection.
	Close() error
}

// Subscriber receives messages whose topic starts with a subscribed prefix.
type Subscriber interface {
	// Subscribe adds a prefix. It returns once the prefix is in effect.
	Subscribe(prefix string) error

	// Unsubscribe removes a prefix. Messages already queued stay receivable.
	Unsubscribe(prefix string) error

	// Receive returns the next queued message. A zero timeout blocks until a
	// message arrives or the connection is torn down (ErrTransport).
	// A positive timeout fails with ErrTimeout once it elapses.
	Receive(timeout time.Duration) (topic string, payload []byte, err error)

	// Pending reports whether a message is queued.
	Pending() bool

	// Close releases the connection. Blocked Receive calls fail with ErrTransport.
	Close() error
}

// Requester sends one request and waits for exactly one reply.
type Requester interface {
	// SendRequest sends a request on topic with an optional payload.
	SendRequest(topic string, payload []byte) error

	// ReceiveReply waits for the reply to the last request.
	ReceiveReply(timeout time.Duration) (string, error)

	// Close releases the connection.
	Close() error
}

// Dialer opens ports to a backbone. Every method is a scoped acquisition:
// it returns a connected port or an error with all resources released.
type Dialer interface {
	DialPublisher(ctx context.Context, endpoint string) (Publisher, error)
	DialSubscriber(ctx context.Context, endpoint string) (Subscriber, error)
	DialRequester(ctx context.Context, endpoint string) (Requester, error)
}
