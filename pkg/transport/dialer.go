package transport

import (
	"context"

	"github.com/ipc-backbone/ipc-go/pkg/port"
)

// Dialer opens TCP ports to a backbone with a shared configuration.
type Dialer struct {
	config DialConfig
}

// NewDialer creates a dialer.
func NewDialer(config DialConfig) *Dialer {
	return &Dialer{config: config}
}

// Config returns the dial configuration.
func (d *Dialer) Config() DialConfig {
	return d.config
}

// DialPublisher implements port.Dialer.
func (d *Dialer) DialPublisher(ctx context.Context, endpoint string) (port.Publisher, error) {
	p, err := DialPublisher(ctx, endpoint, d.config)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DialSubscriber implements port.Dialer.
func (d *Dialer) DialSubscriber(ctx context.Context, endpoint string) (port.Subscriber, error) {
	p, err := DialSubscriber(ctx, endpoint, d.config)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DialRequester implements port.Dialer.
func (d *Dialer) DialRequester(ctx context.Context, endpoint string) (port.Requester, error) {
	p, err := DialRequester(ctx, endpoint, d.config)
	if err != nil {
		return nil, err
	}
	return p, nil
}
