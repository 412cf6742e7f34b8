// Package interactive provides the interactive command-line interface
// for ipc-remote.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/ipc-backbone/ipc-go/pkg/ipc"
	"github.com/ipc-backbone/ipc-go/pkg/notification"
	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/version"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// Remote handles interactive mode for ipc-remote. Facades are opened on
// first use.
type Remote struct {
	ipc     *ipc.Context
	eps     ipc.Endpoints
	timeout time.Duration

	rl  *readline.Instance
	out io.Writer

	req  *ipc.Requester
	disp *ipc.Dispatcher
	recv *ipc.Receiver
}

// New creates a new interactive remote.
func New(ipcCtx *ipc.Context, eps ipc.Endpoints, timeout time.Duration) (*Remote, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ipc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	r := newRemote(ipcCtx, eps, timeout, rl.Stdout())
	r.rl = rl
	return r, nil
}

func newRemote(ipcCtx *ipc.Context, eps ipc.Endpoints, timeout time.Duration, out io.Writer) *Remote {
	if out == nil {
		out = os.Stdout
	}
	return &Remote{ipc: ipcCtx, eps: eps, timeout: timeout, out: out}
}

// Stdout returns a writer that coordinates with the readline input.
func (r *Remote) Stdout() io.Writer {
	return r.out
}

// Run starts the interactive command loop.
func (r *Remote) Run(ctx context.Context, cancel context.CancelFunc) {
	defer r.rl.Close()
	defer r.Close()

	r.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := r.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(r.out, "Exiting...")
			cancel()
			return
		}

		if !r.Exec(ctx, line) {
			fmt.Fprintln(r.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the line asks to quit.
func (r *Remote) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		r.printHelp()

	case "request", "cmd":
		r.cmdRequest(ctx, args)

	case "t", "time":
		r.cmdTime(ctx)

	case "v", "version":
		r.cmdVersion(ctx)

	case "notify", "n":
		r.cmdNotify(ctx, args)

	case "rnotify":
		r.cmdRequestNotify(ctx, args)

	case "flush":
		r.cmdFlush()

	case "sub", "subscribe":
		r.cmdSubscribe(ctx, args)

	case "unsub", "unsubscribe":
		r.cmdUnsubscribe(args)

	case "recv", "r":
		r.cmdReceive(args)

	case "status":
		r.cmdStatus()

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

// Close closes every open facade.
func (r *Remote) Close() error {
	var errs []error
	if r.req != nil {
		errs = append(errs, r.req.Close())
		r.req = nil
	}
	if r.disp != nil {
		errs = append(errs, r.disp.Close())
		r.disp = nil
	}
	if r.recv != nil {
		errs = append(errs, r.recv.Close())
		r.recv = nil
	}
	return errors.Join(errs...)
}

func (r *Remote) printHelp() {
	fmt.Fprintln(r.out, `
IPC Remote Commands:
  Requests:
    request <command>              - Send a command and print the reply
    t                              - Show backbone time and clock offset
    v                              - Show backbone version
    rnotify <subject> [key=value]  - Send a notification through the request endpoint

  Publishing:
    notify <subject> [key=value]   - Publish a notification (delay=<seconds> coalesces)
    flush                          - Send pending delayed notifications now

  Receiving:
    sub <prefix>                   - Subscribe to a topic prefix ("" for all)
    unsub <prefix>                 - Unsubscribe from a topic prefix
    recv [count]                   - Print up to count received messages (default 1)

  General:
    status                         - Show endpoints and open connections
    help                           - Show this help
    quit                           - Exit`)
}

func (r *Remote) requester(ctx context.Context) (*ipc.Requester, error) {
	if r.req != nil {
		return r.req, nil
	}
	req, err := r.ipc.NewRequester(ctx, r.eps.Req)
	if err != nil {
		return nil, err
	}
	r.req = req
	return req, nil
}

func (r *Remote) dispatcher(ctx context.Context) (*ipc.Dispatcher, error) {
	if r.disp != nil {
		return r.disp, nil
	}
	d, err := r.ipc.NewDispatcher(ctx, r.eps.Pub)
	if err != nil {
		return nil, err
	}
	r.disp = d
	return d, nil
}

func (r *Remote) receiver(ctx context.Context) (*ipc.Receiver, error) {
	if r.recv != nil {
		return r.recv, nil
	}
	recv, err := r.ipc.NewReceiver(ctx, r.eps.Sub)
	if err != nil {
		return nil, err
	}
	r.recv = recv
	return recv, nil
}

// request sends cmd and waits for the reply. A timed out request or a lost
// connection leaves the requester unusable, so it is closed and reopened
// on the next call.
func (r *Remote) request(ctx context.Context, send func(*ipc.Requester) error) (string, error) {
	req, err := r.requester(ctx)
	if err != nil {
		return "", err
	}
	if err := send(req); err != nil {
		return "", err
	}
	reply, err := req.Recv(r.timeout)
	if errors.Is(err, port.ErrTimeout) || errors.Is(err, port.ErrTransport) || errors.Is(err, ipc.ErrProtocolViolation) {
		req.Close()
		r.req = nil
	}
	return reply, err
}

func (r *Remote) cmdRequest(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, "Usage: request <command>")
		return
	}
	command := strings.Join(args, " ")
	reply, err := r.request(ctx, func(req *ipc.Requester) error { return req.Send(command) })
	if err != nil {
		fmt.Fprintf(r.out, "Request failed: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, reply)
}

func (r *Remote) cmdTime(ctx context.Context) {
	sent := time.Now()
	reply, err := r.request(ctx, func(req *ipc.Requester) error { return req.Send(wire.CommandTime) })
	if err != nil {
		fmt.Fprintf(r.out, "Request failed: %v\n", err)
		return
	}
	rtt := time.Since(sent)

	secs, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		fmt.Fprintf(r.out, "Backbone time: %s (not a number)\n", reply)
		return
	}
	local := float64(sent.Add(rtt/2).UnixNano()) / 1e9
	fmt.Fprintf(r.out, "Backbone time: %.6f\n", secs)
	fmt.Fprintf(r.out, "Offset:        %+.6fs (round trip %v)\n", secs-local, rtt.Round(time.Microsecond))
}

func (r *Remote) cmdVersion(ctx context.Context) {
	reply, err := r.request(ctx, func(req *ipc.Requester) error { return req.Send(wire.CommandVersion) })
	if err != nil {
		fmt.Fprintf(r.out, "Request failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Backbone version: %s\n", reply)
	if _, err := version.CheckRemote(reply); err != nil {
		fmt.Fprintf(r.out, "Warning: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Compatible with client %s\n", version.Current)
}

func (r *Remote) cmdNotify(ctx context.Context, args []string) {
	n, err := parseNotification(args)
	if err != nil {
		fmt.Fprintf(r.out, "Invalid notification: %v\n", err)
		return
	}
	d, err := r.dispatcher(ctx)
	if err != nil {
		fmt.Fprintf(r.out, "Connect failed: %v\n", err)
		return
	}
	if err := d.Notify(n); err != nil {
		fmt.Fprintf(r.out, "Notify failed: %v\n", err)
		return
	}
	if n.IsDelayed() {
		fmt.Fprintf(r.out, "Scheduled %s (window %v, %d pending)\n", n.Subject, n.Delay, d.Pending())
		return
	}
	fmt.Fprintf(r.out, "Sent %s\n", n.Subject)
}

func (r *Remote) cmdRequestNotify(ctx context.Context, args []string) {
	n, err := parseNotification(args)
	if err != nil {
		fmt.Fprintf(r.out, "Invalid notification: %v\n", err)
		return
	}
	reply, err := r.request(ctx, func(req *ipc.Requester) error { return req.SendNotification(n) })
	if err != nil {
		fmt.Fprintf(r.out, "Request failed: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, reply)
}

func (r *Remote) cmdFlush() {
	if r.disp == nil {
		fmt.Fprintln(r.out, "Nothing pending")
		return
	}
	pending := r.disp.Pending()
	if err := r.disp.Flush(); err != nil {
		fmt.Fprintf(r.out, "Flush failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Flushed %d subject(s)\n", pending)
}

func (r *Remote) cmdSubscribe(ctx context.Context, args []string) {
	prefix := prefixArg(args)
	recv, err := r.receiver(ctx)
	if err != nil {
		fmt.Fprintf(r.out, "Connect failed: %v\n", err)
		return
	}
	if err := recv.Subscribe(prefix); err != nil {
		fmt.Fprintf(r.out, "Subscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Subscribed to %q\n", prefix)
}

func (r *Remote) cmdUnsubscribe(args []string) {
	if r.recv == nil {
		fmt.Fprintln(r.out, "Not subscribed")
		return
	}
	prefix := prefixArg(args)
	if err := r.recv.Unsubscribe(prefix); err != nil {
		fmt.Fprintf(r.out, "Unsubscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Unsubscribed from %q\n", prefix)
}

func (r *Remote) cmdReceive(args []string) {
	if r.recv == nil {
		fmt.Fprintln(r.out, "Not subscribed (use 'sub <prefix>' first)")
		return
	}
	count := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintf(r.out, "Invalid count: %s\n", args[0])
			return
		}
		count = n
	}

	for i := 0; i < count; i++ {
		msg, err := r.recv.Receive(r.timeout)
		if errors.Is(err, port.ErrTimeout) {
			fmt.Fprintln(r.out, "No message")
			return
		}
		if err != nil && msg.Topic == "" {
			fmt.Fprintf(r.out, "Receive failed: %v\n", err)
			return
		}
		r.printMessage(msg)
	}
}

func (r *Remote) cmdStatus() {
	fmt.Fprintln(r.out, "\nEndpoints:")
	fmt.Fprintf(r.out, "  Request:   %s\n", r.eps.Req)
	fmt.Fprintf(r.out, "  Publish:   %s\n", r.eps.Pub)
	fmt.Fprintf(r.out, "  Subscribe: %s\n", r.eps.Sub)
	fmt.Fprintf(r.out, "Open connections: %d\n", r.ipc.Len())
	if r.disp != nil {
		st := r.disp.Stats()
		fmt.Fprintf(r.out, "Dispatcher: %d pending, %d scheduled, %d coalesced, %d flushed, %d dropped\n",
			st.Pending, st.Scheduled, st.Coalesced, st.Flushed, st.Dropped)
	}
	if r.recv != nil {
		fmt.Fprintf(r.out, "Receiver: pending=%v\n", r.recv.HasPending())
	}
}

func (r *Remote) printMessage(msg ipc.Message) {
	fields, ok := msg.Fields()
	if !ok {
		fmt.Fprintf(r.out, "%s: %v\n", msg.Topic, msg.Payload)
		return
	}
	fmt.Fprintf(r.out, "%s:\n", msg.Topic)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.out, "  %s: %v\n", k, fields[k])
	}
}

func prefixArg(args []string) string {
	if len(args) == 0 || args[0] == `""` {
		return ""
	}
	return args[0]
}

// parseNotification builds a notification from "<subject> [key=value ...]".
// A delay key is read as the coalescing window in seconds.
func parseNotification(args []string) (*notification.Notification, error) {
	if len(args) == 0 {
		return nil, errors.New("missing subject")
	}
	fields, err := ParseFields(args[1:])
	if err != nil {
		return nil, err
	}
	fields[notification.KeySubject] = args[0]
	return notification.FromPayload(fields)
}

// ParseFields parses key=value arguments. Numbers and the words true and
// false are converted.
func ParseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		fields[key] = parseValue(value)
	}
	return fields, nil
}

func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
