package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// conn is a framed connection speaking wire frames. It is shared by the
// client ports and the server side.
type conn struct {
	nc      net.Conn
	framer  *Framer
	id      string
	role    wire.Role
	capture log.Logger

	closeOnce sync.Once
	closeErr  error
}

func newConn(nc net.Conn, role wire.Role, maxSize uint32, capture log.Logger) *conn {
	c := &conn{
		nc:      nc,
		framer:  NewFramerWithMaxSize(nc, maxSize),
		id:      uuid.New().String(),
		role:    role,
		capture: log.OrNoop(capture),
	}
	if capture != nil {
		c.framer.SetCapture(capture, c.id)
	}
	return c
}

// ID returns the connection identifier used in capture events.
func (c *conn) ID() string {
	return c.id
}

func (c *conn) writeFrame(f *wire.Frame) error {
	data, err := wire.EncodeFrame(f)
	if err != nil {
		return err
	}
	if err := c.framer.WriteFrame(data); err != nil {
		c.logError(err, "write "+f.Kind.String())
		return err
	}
	c.logFrame(f, log.DirectionOut)
	return nil
}

func (c *conn) readFrame() (*wire.Frame, error) {
	data, err := c.framer.ReadFrame()
	if err != nil {
		return nil, err
	}
	f, err := wire.DecodeFrame(data)
	if err != nil {
		c.logError(err, "decode frame")
		return nil, err
	}
	c.logFrame(f, log.DirectionIn)
	return f, nil
}

// handshakeDeadline bounds the next reads and writes; a zero time clears it.
func (c *conn) handshakeDeadline(t time.Time) {
	_ = c.nc.SetDeadline(t)
}

// close sends a best-effort close frame and closes the socket.
func (c *conn) close(sendClose bool) error {
	c.closeOnce.Do(func() {
		if sendClose {
			_ = c.nc.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			_ = c.writeFrame(&wire.Frame{Kind: wire.KindClose})
		}
		c.closeErr = c.nc.Close()
		c.logState(log.StateConnected, log.StateDisconnected, "")
	})
	return c.closeErr
}

func (c *conn) logFrame(f *wire.Frame, dir log.Direction) {
	c.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryOf(f.Kind),
		Role:         c.role,
		Message:      log.NewMessageEvent(f),
	})
}

func (c *conn) logState(oldState, newState, reason string) {
	c.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerWire,
		Category:     log.CategoryState,
		Role:         c.role,
		RemoteAddr:   c.nc.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (c *conn) logError(err error, context string) {
	c.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		Role:         c.role,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: context,
		},
	})
}
