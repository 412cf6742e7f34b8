package ipc

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ipc-backbone/ipc-go/pkg/coalesce"
	"github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/transport"
)

// ErrTerminated is returned when opening a facade on a terminated Context.
var ErrTerminated = errors.New("context terminated")

// ContextConfig configures a Context.
type ContextConfig struct {
	// Dialer opens connections. Defaults to a TCP dialer with
	// transport.DefaultDialConfig.
	Dialer port.Dialer

	// OnError receives failed delayed flushes of every dispatcher.
	OnError coalesce.ErrorSink

	// Observer receives coalescing events of every dispatcher.
	Observer coalesce.Observer

	// Capture records dispatch events. Optional.
	Capture log.Logger

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// member is a facade registered with a Context.
type member interface {
	// interrupt fails blocked receives without waiting for the owner.
	interrupt()
}

// Context is the process-wide messaging state. It opens facades and keeps
// track of them until they are closed.
type Context struct {
	dialer port.Dialer
	config ContextConfig

	mu         sync.Mutex
	members    map[member]struct{}
	terminated bool
	idle       chan struct{}
}

// NewContext creates a context.
func NewContext(config ContextConfig) *Context {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Dialer == nil {
		dc := transport.DefaultDialConfig()
		dc.Capture = config.Capture
		dc.Logger = config.Logger
		config.Dialer = transport.NewDialer(dc)
	}
	return &Context{
		dialer:  config.Dialer,
		config:  config,
		members: make(map[member]struct{}),
	}
}

// Dialer returns the dialer facades are opened with.
func (c *Context) Dialer() port.Dialer {
	return c.dialer
}

// NewDispatcher connects a dispatcher to the publish endpoint.
func (c *Context) NewDispatcher(ctx context.Context, endpoint string) (*Dispatcher, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	pub, err := c.dialer.DialPublisher(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	d := NewDispatcher(pub, DispatcherConfig{
		OnError:  c.config.OnError,
		Observer: c.config.Observer,
		Capture:  c.config.Capture,
		Logger:   c.config.Logger,
	})
	if err := c.register(d, &d.release); err != nil {
		pub.Close()
		return nil, err
	}
	return d, nil
}

// NewReceiver connects a receiver to the subscribe endpoint and subscribes
// to prefixes.
func (c *Context) NewReceiver(ctx context.Context, endpoint string, prefixes ...string) (*Receiver, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	sub, err := c.dialer.DialSubscriber(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	r := NewReceiver(sub)
	for _, p := range prefixes {
		if err := r.Subscribe(p); err != nil {
			sub.Close()
			return nil, err
		}
	}
	if err := c.register(r, &r.release); err != nil {
		sub.Close()
		return nil, err
	}
	return r, nil
}

// NewRequester connects a requester to the request endpoint.
func (c *Context) NewRequester(ctx context.Context, endpoint string) (*Requester, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	req, err := c.dialer.DialRequester(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	r := NewRequester(req)
	if err := c.register(r, &r.release); err != nil {
		req.Close()
		return nil, err
	}
	return r, nil
}

// Discover asks the request endpoint for the publish and subscribe ports.
func (c *Context) Discover(ctx context.Context, requestEndpoint string) (Endpoints, error) {
	if err := c.checkOpen(); err != nil {
		return Endpoints{}, err
	}
	return DiscoverEndpoints(ctx, c.dialer, requestEndpoint)
}

// Len returns the number of open facades.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Term refuses new facades, interrupts blocked receives on open ones and
// waits until every facade has been closed or ctx ends.
func (c *Context) Term(ctx context.Context) error {
	c.mu.Lock()
	if !c.terminated {
		c.terminated = true
		c.idle = make(chan struct{})
		if len(c.members) == 0 {
			close(c.idle)
		}
	}
	idle := c.idle
	open := make([]member, 0, len(c.members))
	for m := range c.members {
		open = append(open, m)
	}
	c.mu.Unlock()

	for _, m := range open {
		m.interrupt()
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Context) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return ErrTerminated
	}
	return nil
}

// register adds m and stores its deregistration func in release.
func (c *Context) register(m member, release *func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return ErrTerminated
	}
	c.members[m] = struct{}{}
	*release = func() { c.deregister(m) }
	return nil
}

func (c *Context) deregister(m member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[m]; !ok {
		return
	}
	delete(c.members, m)
	if c.terminated && len(c.members) == 0 {
		close(c.idle)
	}
}
