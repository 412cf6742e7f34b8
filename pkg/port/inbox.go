package port

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

// DefaultInboxCapacity is the default number of queued messages per subscriber.
const DefaultInboxCapacity = 1024

// Message is a received topic and payload pair.
type Message struct {
	Topic   string
	Payload []byte
}

// Inbox is the bounded receive queue shared by subscriber implementations.
//
// Messages are filtered against the prefix set when they are pushed, so an
// unsubscribe affects later deliveries only. When the queue is full the
// newest message is dropped and counted. After Fail, queued messages are
// still returned before the failure is reported.
//
// Push and Fail may be called from any goroutine; Receive is meant for one
// consumer at a time.
type Inbox struct {
	mu       sync.Mutex
	queue    []Message
	capacity int
	filter   *topic.Set

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error

	dropped atomic.Uint64
}

// NewInbox creates an inbox. A nil filter accepts every topic; capacity <= 0
// uses DefaultInboxCapacity.
func NewInbox(capacity int, filter *topic.Set) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{
		capacity: capacity,
		filter:   filter,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push enqueues a message. It returns false when the message was filtered
// out, dropped because the queue is full, or the inbox has failed.
func (in *Inbox) Push(topicName string, payload []byte) bool {
	if in.filter != nil && !in.filter.Match(topicName) {
		return false
	}

	in.mu.Lock()
	if in.err != nil {
		in.mu.Unlock()
		return false
	}
	if len(in.queue) >= in.capacity {
		in.mu.Unlock()
		in.dropped.Add(1)
		return false
	}
	in.queue = append(in.queue, Message{Topic: topicName, Payload: payload})
	in.mu.Unlock()

	in.wake()
	return true
}

// Fail marks the inbox as torn down with cause. Only the first call has effect.
func (in *Inbox) Fail(cause error) {
	in.once.Do(func() {
		if cause == nil {
			cause = ErrConnectionClosed
		}
		in.mu.Lock()
		in.err = cause
		in.mu.Unlock()
		close(in.done)
	})
}

// Done is closed once the inbox has failed.
func (in *Inbox) Done() <-chan struct{} {
	return in.done
}

// Receive returns the next message. See Subscriber.Receive for the timeout
// contract.
func (in *Inbox) Receive(timeout time.Duration) (Message, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if msg, ok, err := in.pop(); ok || err != nil {
			return msg, err
		}

		select {
		case <-in.signal:
		case <-in.done:
		case <-deadline:
			// A message may have raced the deadline.
			if msg, ok, err := in.pop(); ok || err != nil {
				return msg, err
			}
			return Message{}, ErrTimeout
		}
	}
}

func (in *Inbox) pop() (Message, bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.queue) > 0 {
		msg := in.queue[0]
		in.queue[0] = Message{}
		in.queue = in.queue[1:]
		if len(in.queue) > 0 {
			in.wake()
		}
		return msg, true, nil
	}
	if in.err != nil {
		return Message{}, false, Wrap("receive", in.err)
	}
	return Message{}, false, nil
}

func (in *Inbox) wake() {
	select {
	case in.signal <- struct{}{}:
	default:
	}
}

// Pending reports whether a message is queued.
func (in *Inbox) Pending() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue) > 0
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// Dropped returns the number of messages dropped because the queue was full.
func (in *Inbox) Dropped() uint64 {
	return in.dropped.Load()
}
