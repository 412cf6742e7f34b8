// Command ipc-monitor prints every notification and forwarded log record
// passing through an IPC backbone.
//
// Log records are rendered at their own level with the sending process
// name. Notifications are rendered at info with their payload fields.
//
// Usage:
//
//	ipc-monitor [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-endpoint string      Request endpoint, or broker URL for nats/redis
//	-transport string     Transport: tcp, nats, redis
//	-browse               Find the backbone over mDNS instead of -endpoint
//	-instance string      mDNS instance to connect to (default: first found)
//	-topics string        Comma-separated topic prefixes
//	                      (default "notify.,delayed_notify.,logging.")
//	-log-level string     Minimum level shown: debug, info, warn, error
//	-no-color             Disable colored output
//	-protocol-log string  File path for protocol capture (CBOR format)
//
// Examples:
//
//	# Everything on the local backbone
//	ipc-monitor
//
//	# Only warnings and errors from remote loggers
//	ipc-monitor -topics logging. -log-level warn
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipc-backbone/ipc-go/pkg/config"
	"github.com/ipc-backbone/ipc-go/pkg/discovery"
	"github.com/ipc-backbone/ipc-go/pkg/ipc"
	ipclog "github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

var (
	configFile  = flag.String("config", "", "Configuration file path (YAML)")
	endpoint    = flag.String("endpoint", "", "Request endpoint, or broker URL for nats/redis")
	transportFl = flag.String("transport", "", "Transport: tcp, nats, redis")
	browse      = flag.Bool("browse", false, "Find the backbone over mDNS instead of -endpoint")
	instance    = flag.String("instance", "", "mDNS instance to connect to")
	topics      = flag.String("topics", strings.Join([]string{topic.NotifyPrefix, topic.DelayedNotifyPrefix, topic.LoggingPrefix}, ","), "Comma-separated topic prefixes")
	logLevel    = flag.String("log-level", "", "Minimum level shown: debug, info, warn, error")
	noColor     = flag.Bool("no-color", false, "Disable colored output")
	protocolLog = flag.String("protocol-log", "", "File path for protocol capture (CBOR format)")
)

// pollInterval bounds each receive so shutdown signals are noticed.
const pollInterval = 500 * time.Millisecond

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	console := newConsole(os.Stdout, zerologLevel(level), *noColor)

	if err := run(cfg, logger, console); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
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
		case "log-level":
			cfg.Log.Level = *logLevel
		case "protocol-log":
			cfg.Log.CaptureFile = *protocolLog
		}
	})
	return cfg, cfg.Validate()
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

func run(cfg *config.Config, logger *slog.Logger, console zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *browse {
		svc, err := findBackbone(ctx, cfg)
		if err != nil {
			return err
		}
		cfg.Client.Transport = config.TransportTCP
		cfg.Client.Endpoint = svc.Endpoints().Req
		fmt.Fprintf(os.Stderr, "Found %s at %s\n", svc.Instance, cfg.Client.Endpoint)
	}

	dialer, err := cfg.Dialer(logger)
	if err != nil {
		return err
	}

	ctxConfig := ipc.ContextConfig{Dialer: dialer, Logger: logger}
	if cfg.Log.CaptureFile != "" {
		fl, err := ipclog.NewFileLogger(cfg.Log.CaptureFile)
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer fl.Close()
		ctxConfig.Capture = fl
	}
	ipcCtx := ipc.NewContext(ctxConfig)
	defer ipcCtx.Term(context.Background())

	eps, err := cfg.Endpoints(ctx, dialer)
	if err != nil {
		return fmt.Errorf("resolve endpoints: %w", err)
	}

	prefixes := splitTopics(*topics)
	recv, err := ipcCtx.NewReceiver(ctx, eps.Sub, prefixes...)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer recv.Close()

	fmt.Fprintf(os.Stderr, "Monitoring %s on %s (Ctrl+C to stop)\n", strings.Join(prefixes, ", "), eps.Sub)

	for ctx.Err() == nil {
		msg, err := recv.Receive(pollInterval)
		switch {
		case err == nil:
			render(console, msg)
		case errors.Is(err, port.ErrTimeout):
		case errors.Is(err, port.ErrTransport) && ctx.Err() != nil:
			return nil
		default:
			if msg.Topic == "" {
				return err
			}
			console.Warn().Str("topic", msg.Topic).Err(err).Msg("undecodable message")
		}
	}
	return nil
}

func findBackbone(ctx context.Context, cfg *config.Config) (*discovery.Service, error) {
	browser, err := discovery.NewMDNSBrowser(cfg.BrowserConfig())
	if err != nil {
		return nil, err
	}
	return browser.Find(ctx, cfg.Discovery.Instance)
}

func splitTopics(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		// Everything.
		return []string{""}
	}
	return out
}
