// Package natsport implements the transport ports on a NATS server.
//
// Topics map one to one onto NATS subjects. A subscription prefix is mapped
// onto the narrowest wildcard subject that covers it ("notify.cal" becomes
// "notify.>", the empty prefix becomes ">") and the exact prefix match is
// applied on arrival. Several prefixes may share one wildcard subscription.
//
// Requests are sent with a reply subject, so any NATS responder that
// answers with a string payload serves as the request endpoint.
package natsport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

// DefaultFlushTimeout bounds the server round trip that confirms a
// subscription change.
const DefaultFlushTimeout = 5 * time.Second

// Config configures NATS ports.
type Config struct {
	// Name is reported to the server as the connection name.
	Name string

	// Options are appended to the connect options.
	Options []nats.Option

	// InboxCapacity bounds queued messages per subscriber.
	InboxCapacity int

	// FlushTimeout bounds Subscribe, Unsubscribe and Close. Default: 5s.
	FlushTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// streamCapacity sizes the channel between the connection and the inbox.
func streamCapacity(inbox int) int {
	return max(inbox, port.DefaultInboxCapacity)
}

// Dialer opens NATS ports. Every port owns its own connection.
type Dialer struct {
	config Config
}

// NewDialer creates a dialer.
func NewDialer(config Config) *Dialer {
	config.applyDefaults()
	return &Dialer{config: config}
}

func (d *Dialer) connect(ctx context.Context, endpoint string, extra ...nats.Option) (*nats.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, port.Wrap("dial", err)
	}
	opts := []nats.Option{nats.Name(d.config.Name)}
	opts = append(opts, d.config.Options...)
	opts = append(opts, extra...)

	nc, err := nats.Connect(endpoint, opts...)
	if err != nil {
		return nil, port.Wrap("dial", fmt.Errorf("%s: %w", endpoint, err))
	}
	return nc, nil
}

// DialPublisher implements port.Dialer.
func (d *Dialer) DialPublisher(ctx context.Context, endpoint string) (port.Publisher, error) {
	nc, err := d.connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, flushTimeout: d.config.FlushTimeout}, nil
}

// DialSubscriber implements port.Dialer.
func (d *Dialer) DialSubscriber(ctx context.Context, endpoint string) (port.Subscriber, error) {
	s := &Subscriber{
		prefixes:     topic.NewSet(),
		subs:         make(map[string]*coverSub),
		flushTimeout: d.config.FlushTimeout,
		logger:       d.config.Logger,
		msgs:         make(chan *nats.Msg, streamCapacity(d.config.InboxCapacity)),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.inbox = port.NewInbox(d.config.InboxCapacity, s.prefixes)

	nc, err := d.connect(ctx, endpoint, nats.ClosedHandler(func(*nats.Conn) {
		s.inbox.Fail(port.ErrConnectionClosed)
	}))
	if err != nil {
		return nil, err
	}
	s.nc = nc
	go s.run()
	return s, nil
}

// DialRequester implements port.Dialer.
func (d *Dialer) DialRequester(ctx context.Context, endpoint string) (port.Requester, error) {
	nc, err := d.connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	replies, err := nc.SubscribeSync(nc.NewRespInbox())
	if err != nil {
		nc.Close()
		return nil, port.Wrap("dial", err)
	}
	return &Requester{nc: nc, replies: replies}, nil
}

// Publisher publishes on NATS subjects.
type Publisher struct {
	nc           *nats.Conn
	flushTimeout time.Duration
	closeOnce    sync.Once
}

// Send implements port.Publisher.
func (p *Publisher) Send(t string, payload []byte) error {
	return port.Wrap("send", p.nc.Publish(t, payload))
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if !p.nc.IsClosed() {
			err = p.nc.FlushTimeout(p.flushTimeout)
		}
		p.nc.Close()
	})
	return port.Wrap("close", err)
}

// coverSub is one wildcard subscription shared by the prefixes it covers.
type coverSub struct {
	subject string
	sub     *nats.Subscription
	refs    int
	seq     uint64
}

// Subscriber receives NATS messages by topic prefix.
//
// All wildcard subscriptions feed one channel, so copies of a message that
// several covers receive are handled in the order the server sent them.
type Subscriber struct {
	nc           *nats.Conn
	inbox        *port.Inbox
	prefixes     *topic.Set
	flushTimeout time.Duration
	logger       *slog.Logger

	msgs chan *nats.Msg
	stop chan struct{}
	done chan struct{}

	mu sync.Mutex
	// subs holds the live cover per subject. covers additionally holds
	// retired covers until the messages they received have been queued.
	subs      map[string]*coverSub
	covers    []*coverSub
	seq       uint64
	closeOnce sync.Once
}

// Subscribe implements port.Subscriber.
func (s *Subscriber) Subscribe(prefix string) error {
	if !s.prefixes.Add(prefix) {
		return nil
	}
	subject := CoverSubject(prefix)

	s.mu.Lock()
	cs, ok := s.subs[subject]
	if !ok {
		s.seq++
		cs = &coverSub{subject: subject, seq: s.seq}
		// Registered before the server can send anything on it.
		s.subs[subject] = cs
		s.covers = append(s.covers, cs)
		sub, err := s.nc.ChanSubscribe(subject, s.msgs)
		if err != nil {
			s.dropCover(cs)
			s.mu.Unlock()
			s.prefixes.Remove(prefix)
			return port.Wrap("subscribe", err)
		}
		cs.sub = sub
	}
	cs.refs++
	s.mu.Unlock()

	if err := s.nc.FlushTimeout(s.flushTimeout); err != nil {
		s.prefixes.Remove(prefix)
		s.release(cs)
		return port.Wrap("subscribe", err)
	}
	return nil
}

// Unsubscribe implements port.Subscriber.
func (s *Subscriber) Unsubscribe(prefix string) error {
	if !s.prefixes.Remove(prefix) {
		return nil
	}

	s.mu.Lock()
	cs, ok := s.subs[CoverSubject(prefix)]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.release(cs)
}

// release drops one reference to cs. The last reference unsubscribes and,
// once the server has confirmed that, retires the cover in the message
// stream: it keeps owning every message that arrived before.
func (s *Subscriber) release(cs *coverSub) error {
	s.mu.Lock()
	cs.refs--
	if cs.refs > 0 {
		s.mu.Unlock()
		return nil
	}
	delete(s.subs, cs.subject)
	s.mu.Unlock()

	err := cs.sub.Unsubscribe()
	if err == nil {
		err = s.nc.FlushTimeout(s.flushTimeout)
	}
	select {
	case s.msgs <- &nats.Msg{Sub: cs.sub}:
	case <-s.stop:
	}
	return port.Wrap("unsubscribe", err)
}

// dropCover removes cs from the ownership view. s.mu must be held.
func (s *Subscriber) dropCover(cs *coverSub) {
	if s.subs[cs.subject] == cs {
		delete(s.subs, cs.subject)
	}
	for i, c := range s.covers {
		if c == cs {
			s.covers = append(s.covers[:i], s.covers[i+1:]...)
			return
		}
	}
}

// run moves messages from the shared channel into the inbox.
func (s *Subscriber) run() {
	defer close(s.done)
	for {
		select {
		case m := <-s.msgs:
			if m.Subject == "" {
				s.retire(m.Sub)
				continue
			}
			s.deliver(m)
		case <-s.stop:
			return
		}
	}
}

func (s *Subscriber) retire(sub *nats.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.covers {
		if cs.sub == sub {
			s.dropCover(cs)
			return
		}
	}
}

// deliver queues m once, from the cover that owns its subject.
func (s *Subscriber) deliver(m *nats.Msg) {
	s.mu.Lock()
	owner := ownerOf(m.Subject, s.covers)
	s.mu.Unlock()
	if owner == nil || owner.sub != m.Sub {
		return
	}
	if !s.inbox.Push(m.Subject, m.Data) {
		s.logger.Debug("message not queued",
			slog.String("topic", m.Subject),
			slog.Uint64("dropped", s.inbox.Dropped()))
	}
}

// Receive implements port.Subscriber.
func (s *Subscriber) Receive(timeout time.Duration) (string, []byte, error) {
	msg, err := s.inbox.Receive(timeout)
	if err != nil {
		return "", nil, err
	}
	return msg.Topic, msg.Payload, nil
}

// Pending implements port.Subscriber.
func (s *Subscriber) Pending() bool {
	return s.inbox.Pending()
}

// Close implements port.Subscriber.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.inbox.Fail(port.ErrConnectionClosed)
		s.nc.Close()
		close(s.stop)
		<-s.done
	})
	return nil
}

// Requester sends requests with a private reply subject.
type Requester struct {
	nc      *nats.Conn
	replies *nats.Subscription
}

// SendRequest implements port.Requester.
func (r *Requester) SendRequest(t string, payload []byte) error {
	return port.Wrap("send", r.nc.PublishRequest(t, r.replies.Subject, payload))
}

// ReceiveReply implements port.Requester.
func (r *Requester) ReceiveReply(timeout time.Duration) (string, error) {
	var (
		m   *nats.Msg
		err error
	)
	if timeout > 0 {
		m, err = r.replies.NextMsg(timeout)
	} else {
		m, err = r.replies.NextMsgWithContext(context.Background())
	}
	switch {
	case errors.Is(err, nats.ErrTimeout):
		return "", port.ErrTimeout
	case err != nil:
		return "", port.Wrap("receive", err)
	}
	return string(m.Data), nil
}

// Close implements port.Requester.
func (r *Requester) Close() error {
	r.nc.Close()
	return nil
}

// CoverSubject returns the NATS subject that receives every topic starting
// with prefix: the complete tokens of prefix followed by the ">" wildcard.
func CoverSubject(prefix string) string {
	i := strings.LastIndexByte(prefix, '.')
	if i < 0 {
		return ">"
	}
	return prefix[:i+1] + ">"
}

// ownerOf returns the oldest cover matching subj, or nil. Covers receive
// messages only after they are registered and stop only after they are
// retired, so a message has the same owner for every copy of it.
func ownerOf(subj string, covers []*coverSub) *coverSub {
	var owner *coverSub
	for _, cs := range covers {
		if !strings.HasPrefix(subj, strings.TrimSuffix(cs.subject, ">")) {
			continue
		}
		if owner == nil || cs.seq < owner.seq {
			owner = cs
		}
	}
	return owner
}

var (
	_ port.Dialer     = (*Dialer)(nil)
	_ port.Publisher  = (*Publisher)(nil)
	_ port.Subscriber = (*Subscriber)(nil)
	_ port.Requester  = (*Requester)(nil)
)
