package ipc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

// mockPublisher is a testify mock of port.Publisher.
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Send(t string, payload []byte) error {
	args := m.Called(t, payload)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// mockRequester is a testify mock of port.Requester.
type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) SendRequest(t string, payload []byte) error {
	args := m.Called(t, payload)
	return args.Error(0)
}

func (m *mockRequester) ReceiveReply(timeout time.Duration) (string, error) {
	args := m.Called(timeout)
	return args.String(0), args.Error(1)
}

func (m *mockRequester) Close() error {
	args := m.Called()
	return args.Error(0)
}

// sentMsg is one message captured by recordingPublisher.
type sentMsg struct {
	topic   string
	payload []byte
	at      time.Time
}

// recordingPublisher records sends and can be told to fail.
type recordingPublisher struct {
	mu     sync.Mutex
	msgs   []sentMsg
	err    error
	closed bool
	ch     chan sentMsg
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan sentMsg, 64)}
}

func (p *recordingPublisher) Send(t string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return port.Wrap("send", port.ErrConnectionClosed)
	}
	if p.err != nil {
		return p.err
	}
	s := sentMsg{topic: t, payload: payload, at: time.Now()}
	p.msgs = append(p.msgs, s)
	select {
	case p.ch <- s:
	default:
	}
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPublisher) sent() []sentMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMsg(nil), p.msgs...)
}

func (p *recordingPublisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeSubscriber is an in-memory port.Subscriber built on port.Inbox.
type fakeSubscriber struct {
	prefixes *topic.Set
	inbox    *port.Inbox
	closes   atomic.Int32
}

func newFakeSubscriber(capacity int) *fakeSubscriber {
	prefixes := topic.NewSet()
	return &fakeSubscriber{
		prefixes: prefixes,
		inbox:    port.NewInbox(capacity, prefixes),
	}
}

func (s *fakeSubscriber) Subscribe(prefix string) error {
	s.prefixes.Add(prefix)
	return nil
}

func (s *fakeSubscriber) Unsubscribe(prefix string) error {
	s.prefixes.Remove(prefix)
	return nil
}

func (s *fakeSubscriber) Receive(timeout time.Duration) (string, []byte, error) {
	msg, err := s.inbox.Receive(timeout)
	if err != nil {
		return "", nil, err
	}
	return msg.Topic, msg.Payload, nil
}

func (s *fakeSubscriber) Pending() bool {
	return s.inbox.Pending()
}

func (s *fakeSubscriber) Close() error {
	s.closes.Add(1)
	s.inbox.Fail(port.ErrConnectionClosed)
	return nil
}

// deliver simulates the backbone publishing to this subscriber.
func (s *fakeSubscriber) deliver(t string, payload []byte) bool {
	return s.inbox.Push(t, payload)
}

// fakeDialer hands out preset ports.
type fakeDialer struct {
	pub port.Publisher
	sub port.Subscriber
	req port.Requester
	err error
}

func (d *fakeDialer) DialPublisher(context.Context, string) (port.Publisher, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.pub, nil
}

func (d *fakeDialer) DialSubscriber(context.Context, string) (port.Subscriber, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sub, nil
}

func (d *fakeDialer) DialRequester(context.Context, string) (port.Requester, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.req, nil
}

var (
	_ port.Publisher  = (*mockPublisher)(nil)
	_ port.Requester  = (*mockRequester)(nil)
	_ port.Publisher  = (*recordingPublisher)(nil)
	_ port.Subscriber = (*fakeSubscriber)(nil)
	_ port.Dialer     = (*fakeDialer)(nil)
)
