package ipc

import (
	"fmt"
	"sync"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/notification"
	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// Message is a received message with its decoded payload.
type Message struct {
	Topic   string
	Payload any

	// Raw is the payload as it arrived.
	Raw []byte
}

// Fields returns the payload as a map, if it is one.
func (m Message) Fields() (map[string]any, bool) {
	f, ok := m.Payload.(map[string]any)
	return f, ok
}

// Notification parses the payload as a notification.
func (m Message) Notification() (*notification.Notification, error) {
	f, ok := m.Fields()
	if !ok {
		return nil, fmt.Errorf("%w: payload on %q is %T, not a map",
			notification.ErrInvalidNotification, m.Topic, m.Payload)
	}
	return notification.FromPayload(f)
}

// Receiver yields messages for a set of topic prefixes.
type Receiver struct {
	sub port.Subscriber

	closeOnce sync.Once
	closeErr  error
	release   func()
}

// NewReceiver creates a receiver that owns sub.
func NewReceiver(sub port.Subscriber) *Receiver {
	return &Receiver{sub: sub}
}

// Subscribe adds a topic prefix. Only messages published after it returns
// are delivered.
func (r *Receiver) Subscribe(prefix string) error {
	return r.sub.Subscribe(prefix)
}

// Unsubscribe removes a topic prefix. Messages already queued under it are
// still returned by Receive.
func (r *Receiver) Unsubscribe(prefix string) error {
	return r.sub.Unsubscribe(prefix)
}

// Receive returns the next message with its payload decoded. A zero
// timeout blocks until a message arrives or the connection is torn down.
func (r *Receiver) Receive(timeout time.Duration) (Message, error) {
	t, raw, err := r.ReceiveRaw(timeout)
	if err != nil {
		return Message{}, err
	}
	payload, err := wire.DecodePayload(raw)
	if err != nil {
		return Message{Topic: t, Raw: raw}, fmt.Errorf("topic %q: %w", t, err)
	}
	return Message{Topic: t, Payload: payload, Raw: raw}, nil
}

// ReceiveRaw returns the next message without decoding it.
func (r *Receiver) ReceiveRaw(timeout time.Duration) (string, []byte, error) {
	return r.sub.Receive(timeout)
}

// HasPending reports whether Receive would return without blocking.
func (r *Receiver) HasPending() bool {
	return r.sub.Pending()
}

// Close closes the subscriber. Blocked Receive calls fail with
// port.ErrTransport.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.sub.Close()
		if r.release != nil {
			r.release()
		}
	})
	return r.closeErr
}

// interrupt implements member.
func (r *Receiver) interrupt() {
	_ = r.sub.Close()
}
