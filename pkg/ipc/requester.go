package ipc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/notification"
	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// ErrProtocolViolation indicates the one-request-one-reply discipline was
// broken. It is fatal: every later call on the Requester fails with it.
var ErrProtocolViolation = errors.New("request/reply protocol violation")

type requestState uint8

const (
	stateIdle requestState = iota
	stateSent
	stateReceiving
)

// Requester sends commands and notifications to the request endpoint, one
// at a time, and returns the reply.
type Requester struct {
	req port.Requester

	mu     sync.Mutex
	state  requestState
	broken error

	closeOnce sync.Once
	closeErr  error
	release   func()
}

// NewRequester creates a requester that owns req.
func NewRequester(req port.Requester) *Requester {
	return &Requester{req: req}
}

// Request sends cmd and waits for the reply.
func (r *Requester) Request(cmd string) (string, error) {
	if err := r.Send(cmd); err != nil {
		return "", err
	}
	return r.Recv(0)
}

// Notify sends n on notify.<subject> and waits for the acknowledgement.
func (r *Requester) Notify(n *notification.Notification) (string, error) {
	if err := r.SendNotification(n); err != nil {
		return "", err
	}
	return r.Recv(0)
}

// Send sends cmd without waiting. Sending while a reply is outstanding is a
// protocol violation.
func (r *Requester) Send(cmd string) error {
	return r.send(cmd, nil)
}

// SendNotification sends n without waiting for the reply.
func (r *Requester) SendNotification(n *notification.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	payload, err := wire.EncodePayload(n.Payload)
	if err != nil {
		return err
	}
	return r.send(topic.Notify(n.Subject), payload)
}

func (r *Requester) send(t string, payload []byte) error {
	r.mu.Lock()
	if r.broken != nil {
		r.mu.Unlock()
		return r.broken
	}
	if r.state != stateIdle {
		r.broken = fmt.Errorf("%w: request %q sent while a reply is outstanding", ErrProtocolViolation, t)
		r.mu.Unlock()
		return r.broken
	}
	r.state = stateSent
	r.mu.Unlock()

	if err := r.req.SendRequest(t, payload); err != nil {
		r.mu.Lock()
		r.state = stateIdle
		r.mu.Unlock()
		return err
	}
	return nil
}

// Recv waits for the reply to the outstanding request. A zero timeout
// waits until the reply arrives or the connection fails. On
// port.ErrTimeout the request stays outstanding and Recv may be called
// again. Any other error means the connection is gone; it is returned by
// every later call.
func (r *Requester) Recv(timeout time.Duration) (string, error) {
	r.mu.Lock()
	if r.broken != nil {
		r.mu.Unlock()
		return "", r.broken
	}
	if r.state != stateSent {
		r.broken = fmt.Errorf("%w: receive without an outstanding request", ErrProtocolViolation)
		r.mu.Unlock()
		return "", r.broken
	}
	r.state = stateReceiving
	r.mu.Unlock()

	body, err := r.req.ReceiveReply(timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(err, port.ErrTimeout) {
		r.state = stateSent
		return "", err
	}
	if err != nil {
		r.state = stateIdle
		r.broken = port.Wrap("receive", err)
		return "", r.broken
	}
	r.state = stateIdle
	return body, nil
}

// Outstanding reports whether a reply is awaited.
func (r *Requester) Outstanding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != stateIdle
}

// Close closes the connection.
func (r *Requester) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.req.Close()
		if r.release != nil {
			r.release()
		}
	})
	return r.closeErr
}

// interrupt implements member.
func (r *Requester) interrupt() {
	_ = r.req.Close()
}
