package ipc

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/coalesce"
	"github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/notification"
	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// OnError receives failed delayed flushes. See coalesce.Config.
	OnError coalesce.ErrorSink

	// Observer receives coalescing events. Optional.
	Observer coalesce.Observer

	// Capture records immediate sends and flushes. Optional.
	Capture log.Logger

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Dispatcher publishes messages and notifications on one publisher.
//
// Immediate sends and delayed flushes share the publisher; they are
// serialized internally. Apart from that a Dispatcher belongs to one
// goroutine.
type Dispatcher struct {
	pub     port.Publisher
	sched   *coalesce.Scheduler
	capture log.Logger

	sendMu sync.Mutex
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error
	release   func()
}

// NewDispatcher creates a dispatcher that owns pub.
func NewDispatcher(pub port.Publisher, config DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		pub:     pub,
		capture: log.OrNoop(config.Capture),
	}
	d.sched = coalesce.New(coalesce.SenderFunc(d.publish), coalesce.Config{
		OnError:  config.OnError,
		Observer: config.Observer,
		Logger:   config.Logger,
		Capture:  config.Capture,
	})
	return d
}

// publish is the single path to the publisher.
func (d *Dispatcher) publish(t string, payload []byte) error {
	if d.closed.Load() {
		return port.Wrap("send", port.ErrConnectionClosed)
	}
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return port.Wrap("send", d.pub.Send(t, payload))
}

// Send encodes payload and publishes it on topic without buffering.
func (d *Dispatcher) Send(t string, payload any) error {
	data, err := wire.EncodePayload(payload)
	if err != nil {
		return err
	}
	return d.SendRaw(t, data)
}

// SendRaw publishes already encoded bytes on topic.
func (d *Dispatcher) SendRaw(t string, payload []byte) error {
	if err := d.publish(t, payload); err != nil {
		return err
	}
	d.capture.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerDispatch,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Kind:        wire.KindPublish,
			Topic:       t,
			PayloadSize: len(payload),
		},
	})
	return nil
}

// Notify validates n and either publishes it on notify.<subject> right away
// or, when n has a delay, hands it to the coalescing scheduler and returns
// without waiting for the flush.
func (d *Dispatcher) Notify(n *notification.Notification) error {
	decision, err := d.sched.Schedule(n)
	if err != nil {
		return err
	}
	if decision != coalesce.SendNow {
		return nil
	}
	return d.SendNow(n)
}

// SendNow publishes n on notify.<subject>, bypassing coalescing.
func (d *Dispatcher) SendNow(n *notification.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return d.Send(topic.Notify(n.Subject), n.Payload)
}

// Emit publishes fields on logging.<level>.
func (d *Dispatcher) Emit(level string, fields map[string]any) error {
	return d.Send(topic.Logging(level), fields)
}

// Flush sends every pending delayed notification now.
func (d *Dispatcher) Flush() error {
	return d.sched.FlushAll()
}

// Pending returns the number of subjects waiting for their window to end.
func (d *Dispatcher) Pending() int {
	return d.sched.Pending()
}

// Dropped returns the number of delayed flushes that failed to send.
func (d *Dispatcher) Dropped() uint64 {
	return d.sched.Dropped()
}

// Stats returns the coalescing counters.
func (d *Dispatcher) Stats() coalesce.Stats {
	return d.sched.Stats()
}

// Close flushes pending delayed notifications, then closes the publisher.
// Later sends fail with port.ErrTransport and later notifications with
// coalesce.ErrClosed.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		flushErr := d.sched.Close()
		d.closed.Store(true)

		d.sendMu.Lock()
		closeErr := d.pub.Close()
		d.sendMu.Unlock()

		d.closeErr = errors.Join(flushErr, closeErr)
		if d.release != nil {
			d.release()
		}
	})
	return d.closeErr
}

// interrupt implements member. A dispatcher never blocks on receive.
func (d *Dispatcher) interrupt() {}
