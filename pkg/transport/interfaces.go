package transport

import (
	"context"
	"net"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// FrameServer accepts client connections for one role.
// Implemented by Server.
type FrameServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	ConnectionCount() int
}

// FrameSender writes frames to one connected client.
// Implemented by ServerConn.
type FrameSender interface {
	ID() string
	Send(f *wire.Frame) error
	Close() error
}

var (
	_ FrameReadWriter = (*Framer)(nil)
	_ FrameServer     = (*Server)(nil)
	_ FrameSender     = (*ServerConn)(nil)
	_ port.Dialer     = (*Dialer)(nil)
)
