package backbone

import (
	"sync"
	"sync/atomic"

	"github.com/ipc-backbone/ipc-go/pkg/topic"
	"github.com/ipc-backbone/ipc-go/pkg/transport"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// subscriber is the routing state of one subscribe connection. A single
// writer goroutine drains its queue so a slow client never blocks routing.
type subscriber struct {
	conn     *transport.ServerConn
	prefixes *topic.Set
	queue    chan *wire.Frame

	done     chan struct{}
	stopOnce sync.Once

	dropped atomic.Uint64
}

func newSubscriber(conn *transport.ServerConn, queueSize int) *subscriber {
	return &subscriber{
		conn:     conn,
		prefixes: topic.NewSet(),
		queue:    make(chan *wire.Frame, queueSize),
		done:     make(chan struct{}),
	}
}

// enqueue queues f unless the queue is full.
func (s *subscriber) enqueue(f *wire.Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- f:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// run writes queued frames until stop is called or a write fails.
func (s *subscriber) run(onError func(error)) {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.queue:
			if err := s.conn.Send(f); err != nil {
				onError(err)
				s.conn.Close()
				return
			}
		}
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
