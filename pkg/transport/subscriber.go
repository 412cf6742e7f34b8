package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// ErrAckTimeout indicates the backbone did not confirm a subscription change.
var ErrAckTimeout = errors.New("subscription ack timeout")

// Subscriber receives publish frames for its prefixes from the backbone's
// subscribe endpoint.
//
// Incoming messages are filtered against the local prefix set when they
// arrive, so an Unsubscribe stops later deliveries immediately while
// messages already queued stay receivable.
type Subscriber struct {
	c          *conn
	prefixes   *topic.Set
	inbox      *port.Inbox
	acks       chan struct{}
	ackTimeout time.Duration

	// ctrlMu serializes subscription round trips.
	ctrlMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// DialSubscriber connects a subscriber to endpoint. It starts with no prefixes.
func DialSubscriber(ctx context.Context, endpoint string, cfg DialConfig) (*Subscriber, error) {
	cfg.applyDefaults()
	c, err := dial(ctx, endpoint, wire.RoleSubscriber, cfg)
	if err != nil {
		return nil, err
	}
	prefixes := topic.NewSet()
	s := &Subscriber{
		c:          c,
		prefixes:   prefixes,
		inbox:      port.NewInbox(cfg.InboxCapacity, prefixes),
		acks:       make(chan struct{}, 1),
		ackTimeout: cfg.AckTimeout,
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) readLoop() {
	defer close(s.done)
	for {
		f, err := s.c.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errRemoteClosed
			}
			s.inbox.Fail(err)
			return
		}
		switch f.Kind {
		case wire.KindPublish:
			s.inbox.Push(f.Topic, f.Payload)
		case wire.KindAck:
			select {
			case s.acks <- struct{}{}:
			default:
			}
		case wire.KindClose:
			s.inbox.Fail(errRemoteClosed)
			return
		}
	}
}

// ID returns the connection identifier.
func (s *Subscriber) ID() string {
	return s.c.ID()
}

// Subscribe adds prefix and waits until the backbone has applied it.
// Subscribing to a prefix already held only bumps its reference count.
func (s *Subscriber) Subscribe(prefix string) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if !s.prefixes.Add(prefix) {
		return nil
	}
	if err := s.roundTrip(wire.KindSubscribe, prefix); err != nil {
		s.prefixes.Remove(prefix)
		return err
	}
	return nil
}

// Unsubscribe removes prefix. Once the last reference is gone, messages
// under it are no longer queued; already queued ones remain.
func (s *Subscriber) Unsubscribe(prefix string) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if !s.prefixes.Remove(prefix) {
		return nil
	}
	return s.roundTrip(wire.KindUnsubscribe, prefix)
}

func (s *Subscriber) roundTrip(kind wire.Kind, prefix string) error {
	op := "subscribe"
	if kind == wire.KindUnsubscribe {
		op = "unsubscribe"
	}

	// Drop a stale ack left by an earlier timed-out round trip.
	select {
	case <-s.acks:
	default:
	}

	if err := s.c.writeFrame(&wire.Frame{Kind: kind, Topic: prefix}); err != nil {
		return port.Wrap(op, err)
	}

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()
	select {
	case <-s.acks:
		return nil
	case <-s.inbox.Done():
		return port.Wrap(op, port.ErrConnectionClosed)
	case <-timer.C:
		return port.Wrap(op, fmt.Errorf("%w: %q", ErrAckTimeout, prefix))
	}
}

// Prefixes returns the active prefixes.
func (s *Subscriber) Prefixes() []string {
	return s.prefixes.Prefixes()
}

// Receive returns the next queued message.
func (s *Subscriber) Receive(timeout time.Duration) (string, []byte, error) {
	msg, err := s.inbox.Receive(timeout)
	if err != nil {
		return "", nil, err
	}
	return msg.Topic, msg.Payload, nil
}

// Pending reports whether a message is queued.
func (s *Subscriber) Pending() bool {
	return s.inbox.Pending()
}

// Dropped returns the number of messages dropped because the queue was full.
func (s *Subscriber) Dropped() uint64 {
	return s.inbox.Dropped()
}

// Close closes the connection and fails blocked Receive calls.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.inbox.Fail(port.ErrConnectionClosed)
		err = s.c.close(true)
		<-s.done
	})
	return err
}

var _ port.Subscriber = (*Subscriber)(nil)
