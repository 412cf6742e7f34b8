package coalesce

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/notification"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// ErrClosed is returned when scheduling on a closed scheduler.
var ErrClosed = errors.New("scheduler closed")

// Decision tells the caller what Schedule did with a notification.
type Decision uint8

const (
	// SendNow means the notification has no delay and must be sent
	// immediately by the caller. No state was created.
	SendNow Decision = iota

	// Scheduled means a new window was opened for the subject.
	Scheduled

	// Coalesced means the payload replaced the pending one of an open window.
	Coalesced
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case SendNow:
		return "SEND_NOW"
	case Scheduled:
		return "SCHEDULED"
	case Coalesced:
		return "COALESCED"
	default:
		return "UNKNOWN"
	}
}

// Sender is where flushed notifications go.
type Sender interface {
	Send(topic string, payload []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(topic string, payload []byte) error

// Send calls f.
func (f SenderFunc) Send(topic string, payload []byte) error {
	return f(topic, payload)
}

// ErrorSink receives failures of timer-driven flushes.
type ErrorSink func(subject string, err error)

// Observer receives scheduler events. Methods are called outside the
// scheduler lock and must not block.
type Observer interface {
	OnScheduled(subject string)
	OnCoalesced(subject string)
	// OnFlushed reports a successful flush and how long after the first
	// notification of the window it happened.
	OnFlushed(subject string, age time.Duration)
	OnDropped(subject string, err error)
}

// Config configures a Scheduler.
type Config struct {
	// OnError receives timer flush failures. When nil, failures are
	// logged at warn level; they are counted in Dropped either way.
	OnError ErrorSink

	// Observer is optional.
	Observer Observer

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Capture records flushes at the dispatch layer. Optional.
	Capture log.Logger
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Pending   int
	Scheduled uint64
	Coalesced uint64
	Flushed   uint64
	Dropped   uint64
}

// entry is the pending state of one subject's window.
type entry struct {
	subject  string
	payload  []byte
	opened   time.Time
	deadline time.Time
	timer    *time.Timer
}

// Scheduler coalesces delayed notifications by subject.
//
// The first delayed notification for a subject opens a window ending at
// now+delay. Later notifications for that subject inside the window replace
// the payload without moving the deadline. When the window ends the latest
// payload is sent once on delayed_notify.<subject>.
//
// Flushes for one subject reach the sender in window order.
type Scheduler struct {
	sender   Sender
	onError  ErrorSink
	observer Observer
	logger   *slog.Logger
	capture  log.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	// sendMu serializes flush sends. It is taken before mu is released so
	// flush order follows removal order.
	sendMu sync.Mutex

	// inflight tracks armed timers whose callback may still run.
	inflight sync.WaitGroup

	scheduled atomic.Uint64
	coalesced atomic.Uint64
	flushed   atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a scheduler that flushes to sender.
func New(sender Sender, config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Scheduler{
		sender:   sender,
		onError:  config.OnError,
		observer: config.Observer,
		logger:   config.Logger,
		capture:  log.OrNoop(config.Capture),
		entries:  make(map[string]*entry),
	}
}

// Schedule validates n and records it.
//
// A notification without delay yields SendNow and leaves no state. The
// payload is encoded here, so encoding failures are returned synchronously.
func (s *Scheduler) Schedule(n *notification.Notification) (Decision, error) {
	if err := n.Validate(); err != nil {
		return SendNow, err
	}
	if !n.IsDelayed() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return SendNow, ErrClosed
		}
		return SendNow, nil
	}

	payload, err := wire.EncodePayload(n.Payload)
	if err != nil {
		return SendNow, fmt.Errorf("%w: %v", notification.ErrInvalidNotification, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SendNow, ErrClosed
	}

	if e, ok := s.entries[n.Subject]; ok {
		e.payload = payload
		s.mu.Unlock()

		s.coalesced.Add(1)
		if s.observer != nil {
			s.observer.OnCoalesced(n.Subject)
		}
		return Coalesced, nil
	}

	now := time.Now()
	e := &entry{
		subject:  n.Subject,
		payload:  payload,
		opened:   now,
		deadline: now.Add(n.Delay),
	}
	s.inflight.Add(1)
	e.timer = time.AfterFunc(n.Delay, func() {
		defer s.inflight.Done()
		s.fire(e)
	})
	s.entries[n.Subject] = e
	s.mu.Unlock()

	s.scheduled.Add(1)
	if s.observer != nil {
		s.observer.OnScheduled(n.Subject)
	}
	return Scheduled, nil
}

// fire is the timer callback for e.
func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	// A forced flush may have removed or replaced the entry.
	if s.entries[e.subject] != e {
		s.mu.Unlock()
		return
	}
	delete(s.entries, e.subject)
	s.sendMu.Lock()
	s.mu.Unlock()

	err := s.send(e)
	s.sendMu.Unlock()

	if err != nil {
		s.report(e.subject, err)
	}
}

// send must be called with sendMu held.
func (s *Scheduler) send(e *entry) error {
	t := topic.DelayedNotify(e.subject)
	err := s.sender.Send(t, e.payload)
	if err != nil {
		s.dropped.Add(1)
		s.capture.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionOut,
			Layer:     log.LayerDispatch,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerDispatch,
				Message: err.Error(),
				Context: "flush " + t,
			},
		})
		if s.observer != nil {
			s.observer.OnDropped(e.subject, err)
		}
		return err
	}

	s.flushed.Add(1)
	s.capture.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerDispatch,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Kind:        wire.KindPublish,
			Topic:       t,
			PayloadSize: len(e.payload),
		},
	})
	if s.observer != nil {
		s.observer.OnFlushed(e.subject, time.Since(e.opened))
	}
	return nil
}

func (s *Scheduler) report(subject string, err error) {
	if s.onError != nil {
		s.onError(subject, err)
		return
	}
	s.logger.Warn("delayed notification dropped",
		slog.String("subject", subject),
		slog.Any("error", err),
		slog.Uint64("dropped_total", s.dropped.Load()))
}

// FlushAll sends every pending entry now, in deadline order, and leaves no
// pending state. Send failures are joined and returned rather than passed
// to the error sink.
func (s *Scheduler) FlushAll() error {
	s.mu.Lock()
	pending := make([]*entry, 0, len(s.entries))
	for subject, e := range s.entries {
		if e.timer.Stop() {
			s.inflight.Done()
		}
		delete(s.entries, subject)
		pending = append(pending, e)
	}
	s.sendMu.Lock()
	s.mu.Unlock()
	defer s.sendMu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].deadline.Before(pending[j].deadline)
	})

	var errs []error
	for _, e := range pending {
		if err := s.send(e); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", e.subject, err))
		}
	}
	return errors.Join(errs...)
}

// Close rejects further scheduling, flushes pending entries and waits for
// running timer callbacks. Calling Close again returns nil.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.FlushAll()
	s.inflight.Wait()
	return err
}

// Pending returns the number of open windows.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Deadline returns the flush deadline of the open window for subject.
func (s *Scheduler) Deadline(subject string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[subject]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Dropped returns the number of flushes that failed to send.
func (s *Scheduler) Dropped() uint64 {
	return s.dropped.Load()
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Pending:   s.Pending(),
		Scheduled: s.scheduled.Load(),
		Coalesced: s.coalesced.Load(),
		Flushed:   s.flushed.Load(),
		Dropped:   s.dropped.Load(),
	}
}
