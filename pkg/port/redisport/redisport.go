// Package redisport implements the publish and subscribe ports on Redis
// pub/sub.
//
// Each subscription prefix becomes one PSUBSCRIBE pattern: the prefix with
// glob metacharacters escaped, followed by "*". Overlapping patterns each
// receive a copy of a message from Redis; only the copy from the oldest
// confirmed pattern is queued. Redis has no reply channel, so DialRequester
// fails with port.ErrUnsupported.
package redisport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

// DefaultAckTimeout bounds the wait for a PSUBSCRIBE confirmation.
const DefaultAckTimeout = 5 * time.Second

// Config configures Redis ports.
type Config struct {
	// InboxCapacity bounds queued messages per subscriber.
	InboxCapacity int

	// AckTimeout bounds Subscribe and Unsubscribe. Default: 5s.
	AckTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dialer opens Redis ports from redis:// URLs.
type Dialer struct {
	config Config
}

// NewDialer creates a dialer.
func NewDialer(config Config) *Dialer {
	config.applyDefaults()
	return &Dialer{config: config}
}

// connect creates a client and checks the server is reachable.
func (d *Dialer) connect(ctx context.Context, endpoint string) (*redis.Client, error) {
	opts, err := redis.ParseURL(endpoint)
	if err != nil {
		return nil, port.Wrap("dial", fmt.Errorf("%s: %w", endpoint, err))
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, port.Wrap("dial", fmt.Errorf("%s: %w", endpoint, err))
	}
	return rdb, nil
}

// DialPublisher implements port.Dialer.
func (d *Dialer) DialPublisher(ctx context.Context, endpoint string) (port.Publisher, error) {
	rdb, err := d.connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &Publisher{rdb: rdb}, nil
}

// DialSubscriber implements port.Dialer.
func (d *Dialer) DialSubscriber(ctx context.Context, endpoint string) (port.Subscriber, error) {
	rdb, err := d.connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		rdb:        rdb,
		ps:         rdb.PSubscribe(runCtx),
		prefixes:   topic.NewSet(),
		acks:       make(map[string]chan struct{}),
		active:     make(map[string]activePattern),
		ackTimeout: d.config.AckTimeout,
		logger:     d.config.Logger,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.inbox = port.NewInbox(d.config.InboxCapacity, s.prefixes)
	go s.run(runCtx)
	return s, nil
}

// DialRequester is not supported on Redis.
func (d *Dialer) DialRequester(context.Context, string) (port.Requester, error) {
	return nil, fmt.Errorf("redis request endpoint: %w", port.ErrUnsupported)
}

// Publisher publishes on Redis channels.
type Publisher struct {
	rdb *redis.Client
}

// Send implements port.Publisher.
func (p *Publisher) Send(t string, payload []byte) error {
	return port.Wrap("send", p.rdb.Publish(context.Background(), t, payload).Err())
}

// Close implements port.Publisher.
func (p *Publisher) Close() error {
	return port.Wrap("close", ignoreClosed(p.rdb.Close()))
}

// Subscriber receives Redis messages by topic prefix.
type Subscriber struct {
	rdb        *redis.Client
	ps         *redis.PubSub
	inbox      *port.Inbox
	prefixes   *topic.Set
	ackTimeout time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	acks map[string]chan struct{}

	// active holds the patterns Redis has confirmed. Only run touches it,
	// in the order the confirmations and messages arrive.
	active map[string]activePattern
	seq    uint64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe implements port.Subscriber. It returns once Redis has
// confirmed the pattern.
func (s *Subscriber) Subscribe(prefix string) error {
	if !s.prefixes.Add(prefix) {
		return nil
	}
	pattern := Pattern(prefix)
	ack := s.expectAck("psubscribe:" + pattern)

	if err := s.ps.PSubscribe(context.Background(), pattern); err != nil {
		s.prefixes.Remove(prefix)
		return port.Wrap("subscribe", err)
	}
	if err := s.waitAck(ack); err != nil {
		s.prefixes.Remove(prefix)
		_ = s.ps.PUnsubscribe(context.Background(), pattern)
		return err
	}
	return nil
}

// Unsubscribe implements port.Subscriber.
func (s *Subscriber) Unsubscribe(prefix string) error {
	if !s.prefixes.Remove(prefix) {
		return nil
	}
	pattern := Pattern(prefix)
	ack := s.expectAck("punsubscribe:" + pattern)

	if err := s.ps.PUnsubscribe(context.Background(), pattern); err != nil {
		return port.Wrap("unsubscribe", err)
	}
	return s.waitAck(ack)
}

func (s *Subscriber) expectAck(key string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.acks[key] = ch
	s.mu.Unlock()
	return ch
}

func (s *Subscriber) waitAck(ack chan struct{}) error {
	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	select {
	case <-ack:
		return nil
	case <-s.inbox.Done():
		return port.Wrap("subscribe", port.ErrConnectionClosed)
	case <-timer.C:
		return port.Wrap("subscribe", errors.New("no confirmation from redis"))
	}
}

// run reads from the pub/sub connection until the subscriber closes.
func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)
	for {
		msg, err := s.ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				s.inbox.Fail(port.ErrConnectionClosed)
				return
			}
			s.logger.Debug("redis receive failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			s.confirm(m)
			key := m.Kind + ":" + m.Channel
			s.mu.Lock()
			if ch, ok := s.acks[key]; ok {
				close(ch)
				delete(s.acks, key)
			}
			s.mu.Unlock()
		case *redis.Message:
			s.deliver(m)
		}
	}
}

// activePattern is a confirmed PSUBSCRIBE pattern.
type activePattern struct {
	prefix string
	seq    uint64
}

// confirm applies a subscription change once Redis has confirmed it.
// Messages for a pattern arrive only between its psubscribe and
// punsubscribe confirmations.
func (s *Subscriber) confirm(m *redis.Subscription) {
	switch m.Kind {
	case "psubscribe":
		if _, ok := s.active[m.Channel]; ok {
			return
		}
		s.seq++
		s.active[m.Channel] = activePattern{prefix: unescape(m.Channel), seq: s.seq}
	case "punsubscribe":
		delete(s.active, m.Channel)
	}
}

func (s *Subscriber) deliver(m *redis.Message) {
	owner, ok := ownerOf(m.Channel, s.active)
	if !ok || owner != m.Pattern {
		return
	}
	if !s.inbox.Push(m.Channel, []byte(m.Payload)) {
		s.logger.Debug("message not queued",
			slog.String("topic", m.Channel),
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
	var err error
	s.closeOnce.Do(func() {
		s.inbox.Fail(port.ErrConnectionClosed)
		s.cancel()
		err = errors.Join(ignoreClosed(s.ps.Close()), ignoreClosed(s.rdb.Close()))
		<-s.done
	})
	return port.Wrap("close", err)
}

// Pattern returns the PSUBSCRIBE pattern matching every channel that
// starts with prefix.
func Pattern(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}

// unescape reverses Pattern.
func unescape(pattern string) string {
	pattern = strings.TrimSuffix(pattern, "*")
	var b strings.Builder
	escaped := false
	for _, r := range pattern {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

// ownerOf returns the oldest confirmed pattern matching channel. The owner
// of a channel changes only when a pattern is unsubscribed, and Redis sends
// nothing for that pattern after the confirmation, so every copy of a
// message sees the same owner.
func ownerOf(channel string, active map[string]activePattern) (string, bool) {
	owner, found := "", false
	var seq uint64
	for pattern, ap := range active {
		if !topic.Matches(ap.prefix, channel) {
			continue
		}
		if !found || ap.seq < seq {
			owner, seq, found = pattern, ap.seq, true
		}
	}
	return owner, found
}

func ignoreClosed(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

var (
	_ port.Dialer     = (*Dialer)(nil)
	_ port.Publisher  = (*Publisher)(nil)
	_ port.Subscriber = (*Subscriber)(nil)
)
