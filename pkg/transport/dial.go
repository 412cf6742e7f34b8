package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// Dial errors.
var (
	// ErrInvalidEndpoint indicates an endpoint that is not host:port.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrHandshake indicates the backbone did not complete the hello/welcome
	// exchange.
	ErrHandshake = errors.New("handshake failed")
)

// DefaultHandshakeTimeout bounds a single connect attempt including the
// hello/welcome exchange.
const DefaultHandshakeTimeout = 5 * time.Second

// DialConfig configures client connections to the backbone.
type DialConfig struct {
	// BlockUntilConnected keeps retrying with backoff while the backbone is
	// unreachable, until the context ends. When false a single attempt is made.
	BlockUntilConnected bool

	// HandshakeTimeout bounds one connect attempt. Default: 5s.
	HandshakeTimeout time.Duration

	// MaxMessageSize is the maximum frame size. Default: 1 MB.
	MaxMessageSize uint32

	// InboxCapacity bounds the subscriber receive queue. Default: 1024.
	InboxCapacity int

	// AckTimeout bounds waiting for a subscribe or unsubscribe ack. Default: 5s.
	AckTimeout time.Duration

	// Backoff shapes retry delays when BlockUntilConnected is set.
	Backoff BackoffConfig

	// Capture records frames and state changes. Optional.
	Capture log.Logger

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultDialConfig returns the default dial configuration.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		BlockUntilConnected: true,
		HandshakeTimeout:    DefaultHandshakeTimeout,
		MaxMessageSize:      DefaultMaxMessageSize,
		InboxCapacity:       port.DefaultInboxCapacity,
		AckTimeout:          DefaultHandshakeTimeout,
		Backoff:             BackoffConfig{Jitter: JitterFactor},
	}
}

func (c *DialConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = port.DefaultInboxCapacity
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultHandshakeTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ParseEndpoint accepts "host:port" or "tcp://host:port" and returns the
// dialable address.
func ParseEndpoint(endpoint string) (string, error) {
	addr := strings.TrimPrefix(endpoint, "tcp://")
	if strings.Contains(addr, "://") {
		return "", fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidEndpoint, endpoint)
	}
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if p == "" {
		return "", fmt.Errorf("%w: missing port in %q", ErrInvalidEndpoint, endpoint)
	}
	if host == "*" {
		host = ""
	}
	return net.JoinHostPort(host, p), nil
}

// dial opens a connection for role and completes the handshake. On any
// failure the socket is closed before returning.
func dial(ctx context.Context, endpoint string, role wire.Role, cfg DialConfig) (*conn, error) {
	cfg.applyDefaults()

	addr, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, port.Wrap("dial", err)
	}

	backoff := NewBackoffWithConfig(cfg.Backoff)
	for {
		c, err := dialOnce(ctx, addr, role, cfg)
		if err == nil {
			return c, nil
		}
		if !cfg.BlockUntilConnected || ctx.Err() != nil {
			return nil, port.Wrap("dial", err)
		}

		delay := backoff.Next()
		cfg.Logger.Debug("connect delayed",
			slog.String("endpoint", addr),
			slog.String("role", role.String()),
			slog.Int("attempt", backoff.Attempts()),
			slog.Duration("retry_in", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, port.Wrap("dial", fmt.Errorf("%w (last error: %v)", ctx.Err(), err))
		}
	}
}

func dialOnce(ctx context.Context, addr string, role wire.Role, cfg DialConfig) (*conn, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(attemptCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c := newConn(nc, role, cfg.MaxMessageSize, cfg.Capture)
	c.logState("", log.StateConnecting, addr)

	deadline, _ := attemptCtx.Deadline()
	c.handshakeDeadline(deadline)

	if err := c.writeFrame(&wire.Frame{Kind: wire.KindHello, Role: role}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	f, err := c.readFrame()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if f.Kind != wire.KindWelcome {
		nc.Close()
		return nil, fmt.Errorf("%w: got %s instead of welcome", ErrHandshake, f.Kind)
	}

	c.handshakeDeadline(time.Time{})
	c.logState(log.StateConnecting, log.StateConnected, "")
	return c, nil
}
