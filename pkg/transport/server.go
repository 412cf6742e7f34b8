package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// ErrRoleMismatch indicates a client announced a role the listener does not serve.
var ErrRoleMismatch = errors.New("client role not accepted on this endpoint")

// ServerConfig configures a frame server for one client role.
type ServerConfig struct {
	// Address to listen on (e.g. ":50021" or "127.0.0.1:0").
	Address string

	// Role is the client role accepted in hello frames.
	Role wire.Role

	// MaxMessageSize is the maximum frame size (default: 1 MB).
	MaxMessageSize uint32

	// HandshakeTimeout bounds waiting for the client hello (default: 5s).
	HandshakeTimeout time.Duration

	// Capture records frames and state changes (optional).
	Capture log.Logger

	// OnConnect is called after the handshake, before any frame is delivered.
	OnConnect func(conn *ServerConn)

	// OnFrame is called for every frame after the handshake, except close.
	// Frames of one connection are delivered sequentially.
	OnFrame func(conn *ServerConn, frame *wire.Frame)

	// OnDisconnect is called once when a connection ends.
	OnDisconnect func(conn *ServerConn)

	// OnError is called for accept, handshake and read failures.
	OnError func(conn *ServerConn, err error)
}

// Server accepts framed client connections for one role.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. Call Start to listen.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Role == wire.RoleUnknown {
		return nil, fmt.Errorf("server role is required")
	}
	if config.Address == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start listens on the configured address and accepts connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	addr, err := ParseEndpoint(s.config.Address)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connection, then waits for handlers.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.RLock()
	for c := range s.conns {
		c.Close()
	}
	s.connsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of established connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.reportError(nil, fmt.Errorf("accept error: %w", err))
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}

		s.wg.Add(1)
		go s.handleConnection(nc)
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	c := newConn(nc, s.config.Role, s.config.MaxMessageSize, s.config.Capture)
	sc := &ServerConn{conn: c, remoteAddr: nc.RemoteAddr()}

	// Stop must not wait for a client that never says hello.
	stopHandshake := context.AfterFunc(s.ctx, func() { nc.Close() })
	err := s.handshake(c)
	stopHandshake()
	if err != nil {
		nc.Close()
		s.reportError(sc, err)
		return
	}
	c.logState("", log.StateConnected, "")

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		c.close(true)
		return
	}
	s.conns[sc] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sc)
	}

	s.readLoop(sc)

	s.connsMu.Lock()
	delete(s.conns, sc)
	s.connsMu.Unlock()

	sc.Close()
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sc)
	}
}

// handshake reads the client hello and answers with welcome.
func (s *Server) handshake(c *conn) error {
	c.handshakeDeadline(time.Now().Add(s.config.HandshakeTimeout))
	defer c.handshakeDeadline(time.Time{})

	f, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if f.Kind != wire.KindHello {
		return fmt.Errorf("%w: got %s instead of hello", ErrHandshake, f.Kind)
	}
	if f.Role != s.config.Role {
		_ = c.writeFrame(&wire.Frame{Kind: wire.KindClose})
		return fmt.Errorf("%w: %s on %s endpoint", ErrRoleMismatch, f.Role, s.config.Role)
	}
	return c.writeFrame(&wire.Frame{Kind: wire.KindWelcome})
}

func (s *Server) readLoop(sc *ServerConn) {
	for {
		f, err := sc.conn.readFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !sc.isClosed() && s.running.Load() {
				s.reportError(sc, err)
			}
			return
		}
		if f.Kind == wire.KindClose {
			return
		}
		if s.config.OnFrame != nil {
			s.config.OnFrame(sc, f)
		}
	}
}

func (s *Server) reportError(sc *ServerConn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(sc, err)
	}
}

// ServerConn is the server side of one client connection.
type ServerConn struct {
	conn       *conn
	remoteAddr net.Addr
	closed     atomic.Bool
}

// ID returns the unique connection identifier.
func (c *ServerConn) ID() string {
	return c.conn.ID()
}

// RemoteAddr returns the client address.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Send writes a frame to the client. Safe for concurrent use.
func (c *ServerConn) Send(f *wire.Frame) error {
	return c.conn.writeFrame(f)
}

// Close sends a close frame and closes the connection.
func (c *ServerConn) Close() error {
	c.closed.Store(true)
	return c.conn.close(true)
}

func (c *ServerConn) isClosed() bool {
	return c.closed.Load()
}
