package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// errRemoteClosed is recorded when the backbone closes a connection.
var errRemoteClosed = errors.New("closed by backbone")

// Publisher sends publish frames to the backbone's publish endpoint.
type Publisher struct {
	c *conn

	mu      sync.Mutex
	failure error

	done      chan struct{}
	closeOnce sync.Once
}

// DialPublisher connects a publisher to endpoint.
func DialPublisher(ctx context.Context, endpoint string, cfg DialConfig) (*Publisher, error) {
	c, err := dial(ctx, endpoint, wire.RolePublisher, cfg)
	if err != nil {
		return nil, err
	}
	p := &Publisher{c: c, done: make(chan struct{})}
	go p.watch()
	return p, nil
}

// watch notices the backbone going away; publishers never receive data.
func (p *Publisher) watch() {
	defer close(p.done)
	for {
		f, err := p.c.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errRemoteClosed
			}
			p.fail(err)
			return
		}
		if f.Kind == wire.KindClose {
			p.fail(errRemoteClosed)
			return
		}
	}
}

func (p *Publisher) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure == nil {
		p.failure = err
	}
}

// ID returns the connection identifier.
func (p *Publisher) ID() string {
	return p.c.ID()
}

// Send publishes payload on topic.
func (p *Publisher) Send(topic string, payload []byte) error {
	p.mu.Lock()
	failure := p.failure
	p.mu.Unlock()
	if failure != nil {
		return port.Wrap("send", failure)
	}
	return port.Wrap("send", p.c.writeFrame(wire.NewPublish(topic, payload)))
}

// Close closes the connection. Later sends fail with port.ErrTransport.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.fail(port.ErrConnectionClosed)
		err = p.c.close(true)
		<-p.done
	})
	return err
}

var _ port.Publisher = (*Publisher)(nil)
