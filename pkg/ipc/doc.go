// Package ipc provides the client facades for talking to the IPC backbone.
//
// # Facades
//
//   - Dispatcher publishes messages and notifications. Delayed
//     notifications are coalesced per subject and flushed on
//     delayed_notify.<subject> once their window ends.
//   - Receiver subscribes to topic prefixes and yields decoded messages.
//   - Requester sends one command or notification at a time to the request
//     endpoint and waits for its reply.
//
// Every facade is bound to one connection and must not be shared between
// goroutines without external synchronization. Create one per goroutine.
//
// # Context
//
// A Context owns the dialer used to open facades and tracks every facade it
// created. Term refuses new facades, interrupts blocked receives and waits
// until all facades have been closed:
//
//	ictx := ipc.NewContext(ipc.ContextConfig{})
//	defer ictx.Term(context.Background())
//
//	eps, err := ictx.Discover(ctx, "tcp://127.0.0.1:50020")
//	if err != nil {
//	    return err
//	}
//	d, err := ictx.NewDispatcher(ctx, eps.Pub)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	n, _ := notification.New("recording.started", nil, 100*time.Millisecond)
//	err = d.Notify(n)
//
// # Remote logging
//
// LogHandler is a slog.Handler that forwards records to logging.<level>
// through a Dispatcher, rate-limited so a log storm cannot flood the
// backbone.
package ipc
