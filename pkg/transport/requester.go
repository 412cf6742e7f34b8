package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// Requester talks to the backbone's request endpoint. It does not enforce
// the one-outstanding-request rule; callers layer that on top.
type Requester struct {
	c       *conn
	replies chan string

	mu      sync.Mutex
	failure error

	done      chan struct{}
	closeOnce sync.Once
}

// DialRequester connects a requester to endpoint.
func DialRequester(ctx context.Context, endpoint string, cfg DialConfig) (*Requester, error) {
	c, err := dial(ctx, endpoint, wire.RoleRequester, cfg)
	if err != nil {
		return nil, err
	}
	r := &Requester{
		c:       c,
		replies: make(chan string, 1),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func (r *Requester) readLoop() {
	defer close(r.done)
	for {
		f, err := r.c.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errRemoteClosed
			}
			r.fail(err)
			return
		}
		switch f.Kind {
		case wire.KindReply:
			select {
			case r.replies <- f.Body:
			default:
				// More than one reply per request is a backbone bug.
			}
		case wire.KindClose:
			r.fail(errRemoteClosed)
			return
		}
	}
}

func (r *Requester) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = err
	}
}

func (r *Requester) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// ID returns the connection identifier.
func (r *Requester) ID() string {
	return r.c.ID()
}

// SendRequest sends a request on topic. Commands carry no payload.
func (r *Requester) SendRequest(topic string, payload []byte) error {
	if err := r.err(); err != nil {
		return port.Wrap("request", err)
	}
	return port.Wrap("request", r.c.writeFrame(wire.NewRequest(topic, payload)))
}

// ReceiveReply waits for the next reply. A zero timeout waits until a
// reply arrives or the connection fails.
func (r *Requester) ReceiveReply(timeout time.Duration) (string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case body := <-r.replies:
		return body, nil
	case <-r.done:
		select {
		case body := <-r.replies:
			return body, nil
		default:
		}
		return "", port.Wrap("reply", r.err())
	case <-deadline:
		return "", port.ErrTimeout
	}
}

// Close closes the connection.
func (r *Requester) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.fail(port.ErrConnectionClosed)
		err = r.c.close(true)
		<-r.done
	})
	return err
}

var _ port.Requester = (*Requester)(nil)
