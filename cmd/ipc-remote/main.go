// Command ipc-remote talks to an IPC backbone from the command line.
//
// Without a subcommand it starts an interactive shell for sending
// requests, publishing notifications and watching topics.
//
// Usage:
//
//	ipc-remote [flags] [shell]
//	ipc-remote [flags] request <command>
//	ipc-remote [flags] notify <subject> [key=value ...]
//	ipc-remote [flags] latency [-n count]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-endpoint string      Request endpoint, or broker URL for nats/redis
//	-transport string     Transport: tcp, nats, redis
//	-browse               Find the backbone over mDNS instead of -endpoint
//	-instance string      mDNS instance to connect to (default: first found)
//	-timeout duration     Reply timeout (default 5s)
//	-forward-logs         Forward this tool's own log records to logging.<level>
//	-protocol-log string  File path for protocol capture (CBOR format)
//
// Examples:
//
//	# Ask the backbone for its clock
//	ipc-remote request t
//
//	# Start a recording through the request endpoint
//	ipc-remote notify recording.should_start session_name=run1
//
//	# Round-trip latency of 1000 requests and 1000 published messages
//	ipc-remote latency -n 1000
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipc-backbone/ipc-go/cmd/ipc-remote/interactive"
	"github.com/ipc-backbone/ipc-go/pkg/config"
	"github.com/ipc-backbone/ipc-go/pkg/discovery"
	"github.com/ipc-backbone/ipc-go/pkg/ipc"
	ipclog "github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/notification"
)

var (
	configFile  = flag.String("config", "", "Configuration file path (YAML)")
	endpoint    = flag.String("endpoint", "", "Request endpoint, or broker URL for nats/redis")
	transportFl = flag.String("transport", "", "Transport: tcp, nats, redis")
	browse      = flag.Bool("browse", false, "Find the backbone over mDNS instead of -endpoint")
	instance    = flag.String("instance", "", "mDNS instance to connect to")
	timeout     = flag.Duration("timeout", 5*time.Second, "Reply timeout")
	forwardLogs = flag.Bool("forward-logs", false, "Forward this tool's own log records to logging.<level>")
	protocolLog = flag.String("protocol-log", "", "File path for protocol capture (CBOR format)")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fail(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := connect(ctx, cfg)
	if err != nil {
		fail(err)
	}
	defer sess.close()

	args := flag.Args()
	cmd := "shell"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "shell":
		err = runShell(ctx, cancel, sess)
	case "request":
		err = runRequest(ctx, sess, args)
	case "notify":
		err = runNotify(ctx, sess, args)
	case "latency":
		err = runLatency(ctx, sess, args)
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		sess.close()
		fail(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `ipc-remote - IPC backbone command-line client

Usage:
  ipc-remote [flags] [shell]
  ipc-remote [flags] request <command>
  ipc-remote [flags] notify <subject> [key=value ...]
  ipc-remote [flags] latency [-n count]

Flags:`)
	flag.PrintDefaults()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Client.Endpoint = *endpoint
		case "transport":
			cfg.Client.Transport = *transportFl
		case "instance":
			cfg.Discovery.Instance = *instance
		case "protocol-log":
			cfg.Log.CaptureFile = *protocolLog
		}
	})
	return cfg, cfg.Validate()
}

// session is the connected client state shared by every subcommand.
type session struct {
	cfg     *config.Config
	ipc     *ipc.Context
	eps     ipc.Endpoints
	capture *ipclog.FileLogger
	logs    *ipc.Dispatcher
}

func connect(ctx context.Context, cfg *config.Config) (*session, error) {
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *browse {
		browser, err := discovery.NewMDNSBrowser(cfg.BrowserConfig())
		if err != nil {
			return nil, err
		}
		svc, err := browser.Find(ctx, cfg.Discovery.Instance)
		if err != nil {
			return nil, fmt.Errorf("browse: %w", err)
		}
		cfg.Client.Transport = config.TransportTCP
		cfg.Client.Endpoint = svc.Endpoints().Req
		logger.Info("found backbone", slog.String("instance", svc.Instance), slog.String("endpoint", cfg.Client.Endpoint))
	}

	dialer, err := cfg.Dialer(logger)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	ctxConfig := ipc.ContextConfig{Dialer: dialer, Logger: logger}
	if cfg.Log.CaptureFile != "" {
		if s.capture, err = ipclog.NewFileLogger(cfg.Log.CaptureFile); err != nil {
			return nil, fmt.Errorf("protocol log: %w", err)
		}
		ctxConfig.Capture = s.capture
	}
	s.ipc = ipc.NewContext(ctxConfig)

	if s.eps, err = cfg.Endpoints(ctx, dialer); err != nil {
		s.close()
		return nil, fmt.Errorf("resolve endpoints: %w", err)
	}

	if *forwardLogs {
		if s.logs, err = s.ipc.NewDispatcher(ctx, s.eps.Pub); err != nil {
			s.close()
			return nil, err
		}
		handler := ipc.NewLogHandler(s.logs, ipc.LogHandlerConfig{
			Name:  "ipc-remote",
			Level: level,
			Rate:  cfg.Client.LogRate,
			Next:  logger.Handler(),
		})
		slog.SetDefault(slog.New(handler))
	} else {
		slog.SetDefault(logger)
	}
	return s, nil
}

func (s *session) close() {
	if s.ipc != nil {
		termCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if s.logs != nil {
			s.logs.Close()
		}
		_ = s.ipc.Term(termCtx)
		cancel()
		s.ipc = nil
	}
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
}

func runShell(ctx context.Context, cancel context.CancelFunc, s *session) error {
	remote, err := interactive.New(s.ipc, s.eps, *timeout)
	if err != nil {
		return err
	}
	remote.Run(ctx, cancel)
	return nil
}

func runRequest(ctx context.Context, s *session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ipc-remote request <command>")
	}
	req, err := s.ipc.NewRequester(ctx, s.eps.Req)
	if err != nil {
		return err
	}
	defer req.Close()

	if err := req.Send(args[0]); err != nil {
		return err
	}
	reply, err := req.Recv(*timeout)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func runNotify(ctx context.Context, s *session, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: ipc-remote notify <subject> [key=value ...]")
	}
	fields, err := interactive.ParseFields(args[1:])
	if err != nil {
		return err
	}
	fields[notification.KeySubject] = args[0]
	n, err := notification.FromPayload(fields)
	if err != nil {
		return err
	}

	req, err := s.ipc.NewRequester(ctx, s.eps.Req)
	if err != nil {
		return err
	}
	defer req.Close()

	if err := req.SendNotification(n); err != nil {
		return err
	}
	reply, err := req.Recv(*timeout)
	if err != nil {
		return err
	}
	slog.Info("notification sent", slog.String("subject", n.Subject), slog.String("reply", reply))
	fmt.Println(reply)
	return nil
}

func runLatency(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("latency", flag.ContinueOnError)
	count := fs.Int("n", 100, "Number of round trips per measurement")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count <= 0 {
		return fmt.Errorf("-n must be positive")
	}

	req, err := s.ipc.NewRequester(ctx, s.eps.Req)
	if err != nil {
		return err
	}
	defer req.Close()

	fmt.Printf("Measuring %d round trips against %s\n", *count, s.eps.Req)
	samples, err := measureRequests(req, *count, *timeout)
	if err != nil {
		return fmt.Errorf("req/rep: %w", err)
	}
	summarize(samples).print(os.Stdout, "req/rep")

	t := latencyTopic()
	recv, err := s.ipc.NewReceiver(ctx, s.eps.Sub, t)
	if err != nil {
		return err
	}
	defer recv.Close()
	d, err := s.ipc.NewDispatcher(ctx, s.eps.Pub)
	if err != nil {
		return err
	}
	defer d.Close()

	samples, err = measurePublish(d, recv, t, *count, *timeout)
	if err != nil {
		return fmt.Errorf("pub/sub: %w", err)
	}
	summarize(samples).print(os.Stdout, "pub/sub")
	return nil
}
