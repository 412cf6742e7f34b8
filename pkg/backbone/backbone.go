// Package backbone implements the IPC backbone: the broker that routes
// published messages to subscribers by topic prefix and answers requests.
//
// It listens on three endpoints. Publishers send messages to the publish
// endpoint, subscribers receive them from the subscribe endpoint, and the
// request endpoint answers commands and accepts notifications, which are
// republished to subscribers.
package backbone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ipc-backbone/ipc-go/pkg/topic"
	"github.com/ipc-backbone/ipc-go/pkg/transport"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// ErrNotRunning is returned when the backbone has not been started.
var ErrNotRunning = errors.New("backbone not running")

// Backbone routes messages between IPC clients.
type Backbone struct {
	config Config
	logger *slog.Logger

	pubServer *transport.Server
	subServer *transport.Server
	reqServer *transport.Server

	mu          sync.RWMutex
	subscribers map[*transport.ServerConn]*subscriber

	writers sync.WaitGroup
	running atomic.Bool

	published atomic.Uint64
	dropped   atomic.Uint64
	requests  atomic.Uint64
}

// Stats is a snapshot of backbone counters.
type Stats struct {
	Subscribers int
	Published   uint64
	Dropped     uint64
	Requests    uint64
}

// New creates a backbone. Call Start to listen.
func New(config Config) (*Backbone, error) {
	config.applyDefaults()

	b := &Backbone{
		config:      config,
		logger:      config.Logger,
		subscribers: make(map[*transport.ServerConn]*subscriber),
	}

	var err error
	b.pubServer, err = transport.NewServer(transport.ServerConfig{
		Address:          config.PubAddress,
		Role:             wire.RolePublisher,
		MaxMessageSize:   config.MaxMessageSize,
		HandshakeTimeout: config.HandshakeTimeout,
		Capture:          config.Capture,
		OnFrame:          b.handlePublish,
		OnError:          b.onError("pub"),
	})
	if err != nil {
		return nil, fmt.Errorf("publish endpoint: %w", err)
	}

	b.subServer, err = transport.NewServer(transport.ServerConfig{
		Address:          config.SubAddress,
		Role:             wire.RoleSubscriber,
		MaxMessageSize:   config.MaxMessageSize,
		HandshakeTimeout: config.HandshakeTimeout,
		Capture:          config.Capture,
		OnConnect:        b.addSubscriber,
		OnFrame:          b.handleSubscription,
		OnDisconnect:     b.removeSubscriber,
		OnError:          b.onError("sub"),
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe endpoint: %w", err)
	}

	b.reqServer, err = transport.NewServer(transport.ServerConfig{
		Address:          config.ReqAddress,
		Role:             wire.RoleRequester,
		MaxMessageSize:   config.MaxMessageSize,
		HandshakeTimeout: config.HandshakeTimeout,
		Capture:          config.Capture,
		OnFrame:          b.handleRequest,
		OnError:          b.onError("req"),
	})
	if err != nil {
		return nil, fmt.Errorf("request endpoint: %w", err)
	}

	return b, nil
}

// Start opens the three endpoints. If one fails, the others are closed.
func (b *Backbone) Start(ctx context.Context) error {
	if b.running.Load() {
		return fmt.Errorf("backbone already running")
	}

	if err := b.subServer.Start(ctx); err != nil {
		return fmt.Errorf("subscribe endpoint: %w", err)
	}
	if err := b.pubServer.Start(ctx); err != nil {
		b.subServer.Stop()
		return fmt.Errorf("publish endpoint: %w", err)
	}
	if err := b.reqServer.Start(ctx); err != nil {
		b.pubServer.Stop()
		b.subServer.Stop()
		return fmt.Errorf("request endpoint: %w", err)
	}
	b.running.Store(true)

	b.logger.Info("backbone started",
		slog.String("req", b.reqServer.Addr().String()),
		slog.String("pub", b.pubServer.Addr().String()),
		slog.String("sub", b.subServer.Addr().String()))
	return nil
}

// Stop closes every endpoint and connection and waits for subscriber
// writers to finish.
func (b *Backbone) Stop() error {
	if !b.running.Swap(false) {
		return nil
	}

	err := errors.Join(
		b.reqServer.Stop(),
		b.pubServer.Stop(),
		b.subServer.Stop(),
	)
	b.writers.Wait()

	b.logger.Info("backbone stopped",
		slog.Uint64("published", b.published.Load()),
		slog.Uint64("dropped", b.dropped.Load()))
	return err
}

// PubAddr returns the publish endpoint address, or nil before Start.
func (b *Backbone) PubAddr() net.Addr {
	return b.pubServer.Addr()
}

// SubAddr returns the subscribe endpoint address, or nil before Start.
func (b *Backbone) SubAddr() net.Addr {
	return b.subServer.Addr()
}

// ReqAddr returns the request endpoint address, or nil before Start.
func (b *Backbone) ReqAddr() net.Addr {
	return b.reqServer.Addr()
}

// SubscriberCount returns the number of connected subscribers.
func (b *Backbone) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns a snapshot of the counters.
func (b *Backbone) Stats() Stats {
	return Stats{
		Subscribers: b.SubscriberCount(),
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Requests:    b.requests.Load(),
	}
}

// Publish routes payload on topic to every subscriber with a matching
// prefix and returns the number of subscribers it was queued for.
func (b *Backbone) Publish(t string, payload []byte) (int, error) {
	if !b.running.Load() {
		return 0, ErrNotRunning
	}
	return b.route(wire.NewPublish(t, payload)), nil
}

func (b *Backbone) route(f *wire.Frame) int {
	b.published.Add(1)

	delivered := 0
	b.mu.RLock()
	for _, s := range b.subscribers {
		if !s.prefixes.Match(f.Topic) {
			continue
		}
		if s.enqueue(f) {
			delivered++
			continue
		}
		b.dropped.Add(1)
		if b.config.Observer != nil {
			b.config.Observer.OnDrop(f.Topic)
		}
	}
	b.mu.RUnlock()

	if b.config.Observer != nil {
		b.config.Observer.OnPublish(f.Topic, delivered)
	}
	return delivered
}

func (b *Backbone) handlePublish(_ *transport.ServerConn, f *wire.Frame) {
	if f.Kind != wire.KindPublish {
		return
	}
	b.route(f)
}

func (b *Backbone) addSubscriber(conn *transport.ServerConn) {
	s := newSubscriber(conn, b.config.QueueSize)

	b.mu.Lock()
	b.subscribers[conn] = s
	n := len(b.subscribers)
	b.mu.Unlock()

	b.writers.Add(1)
	go func() {
		defer b.writers.Done()
		s.run(func(err error) {
			b.logger.Warn("subscriber write failed",
				slog.String("conn", conn.ID()),
				slog.Any("error", err))
		})
	}()

	b.logger.Debug("subscriber connected",
		slog.String("conn", conn.ID()),
		slog.String("remote", conn.RemoteAddr().String()))
	if b.config.Observer != nil {
		b.config.Observer.OnSubscribers(n)
	}
}

func (b *Backbone) removeSubscriber(conn *transport.ServerConn) {
	b.mu.Lock()
	s, ok := b.subscribers[conn]
	delete(b.subscribers, conn)
	n := len(b.subscribers)
	b.mu.Unlock()
	if !ok {
		return
	}
	s.stop()

	b.logger.Debug("subscriber disconnected",
		slog.String("conn", conn.ID()),
		slog.Uint64("dropped", s.dropped.Load()))
	if b.config.Observer != nil {
		b.config.Observer.OnSubscribers(n)
	}
}

// handleSubscription applies a prefix change and acknowledges it.
func (b *Backbone) handleSubscription(conn *transport.ServerConn, f *wire.Frame) {
	b.mu.RLock()
	s, ok := b.subscribers[conn]
	b.mu.RUnlock()
	if !ok {
		return
	}

	switch f.Kind {
	case wire.KindSubscribe:
		s.prefixes.Add(f.Topic)
	case wire.KindUnsubscribe:
		s.prefixes.Remove(f.Topic)
	default:
		return
	}
	if err := conn.Send(&wire.Frame{Kind: wire.KindAck, Topic: f.Topic}); err != nil {
		b.logger.Warn("subscription ack failed",
			slog.String("conn", conn.ID()),
			slog.Any("error", err))
	}
}

func (b *Backbone) handleRequest(conn *transport.ServerConn, f *wire.Frame) {
	if f.Kind != wire.KindRequest {
		return
	}
	b.requests.Add(1)
	if b.config.Observer != nil {
		command := f.Topic
		if strings.HasPrefix(command, topic.NotifyPrefix) {
			command = topic.NotifyPrefix
		}
		b.config.Observer.OnRequest(command)
	}

	reply := b.answer(f)
	if err := conn.Send(wire.NewReply(reply)); err != nil {
		b.logger.Warn("reply failed",
			slog.String("conn", conn.ID()),
			slog.String("request", f.Topic),
			slog.Any("error", err))
	}
}

// answer computes the reply for one request.
func (b *Backbone) answer(f *wire.Frame) string {
	if strings.HasPrefix(f.Topic, topic.NotifyPrefix) {
		b.route(wire.NewPublish(f.Topic, f.Payload))
		return wire.ReplyNotificationReceived
	}

	switch f.Topic {
	case wire.CommandSubPort:
		return portOf(b.subServer.Addr())
	case wire.CommandPubPort:
		return portOf(b.pubServer.Addr())
	case wire.CommandTime:
		return strconv.FormatFloat(b.config.Clock(), 'f', -1, 64)
	case wire.CommandVersion:
		return b.config.Version
	}

	if fn, ok := b.config.Commands[f.Topic]; ok {
		return fn(f.Payload)
	}
	return wire.ReplyUnknownCommand
}

func (b *Backbone) onError(endpoint string) func(*transport.ServerConn, error) {
	return func(conn *transport.ServerConn, err error) {
		attrs := []any{slog.String("endpoint", endpoint), slog.Any("error", err)}
		if conn != nil {
			attrs = append(attrs, slog.String("conn", conn.ID()))
		}
		b.logger.Debug("connection error", attrs...)
	}
}

func portOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return strconv.Itoa(tcp.Port)
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	return p
}
