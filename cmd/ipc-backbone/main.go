// Command ipc-backbone runs the IPC backbone broker.
//
// It listens on the request, publish and subscribe endpoints, optionally
// serves Prometheus metrics and advertises itself over mDNS.
//
// Usage:
//
//	ipc-backbone [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-req string           Request endpoint listen address (default ":50020")
//	-pub string           Publish endpoint listen address (default ":50021")
//	-sub string           Subscribe endpoint listen address (default ":50022")
//	-metrics string       Serve Prometheus metrics on this address
//	-advertise            Advertise the backbone over mDNS
//	-instance string      mDNS instance name (default ipc-<hostname>)
//	-protocol-log string  File path for protocol capture (CBOR format)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Flags override values from the configuration file.
//
// Examples:
//
//	# Start with defaults
//	ipc-backbone
//
//	# Metrics and discovery on a lab network
//	ipc-backbone -metrics :9102 -advertise -instance lab-1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ipc-backbone/ipc-go/pkg/backbone"
	"github.com/ipc-backbone/ipc-go/pkg/config"
	"github.com/ipc-backbone/ipc-go/pkg/discovery"
	ipclog "github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/metrics"
)

var (
	configFile  = flag.String("config", "", "Configuration file path (YAML)")
	reqAddr     = flag.String("req", "", "Request endpoint listen address")
	pubAddr     = flag.String("pub", "", "Publish endpoint listen address")
	subAddr     = flag.String("sub", "", "Subscribe endpoint listen address")
	metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
	advertise   = flag.Bool("advertise", false, "Advertise the backbone over mDNS")
	instance    = flag.String("instance", "", "mDNS instance name")
	protocolLog = flag.String("protocol-log", "", "File path for protocol capture (CBOR format)")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("backbone failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}

	overrides := map[string]*string{
		"req":          &cfg.Backbone.ReqAddress,
		"pub":          &cfg.Backbone.PubAddress,
		"sub":          &cfg.Backbone.SubAddress,
		"instance":     &cfg.Discovery.Instance,
		"protocol-log": &cfg.Log.CaptureFile,
		"log-level":    &cfg.Log.Level,
		"metrics":      &cfg.Metrics.Address,
	}
	values := map[string]string{
		"req":          *reqAddr,
		"pub":          *pubAddr,
		"sub":          *subAddr,
		"instance":     *instance,
		"protocol-log": *protocolLog,
		"log-level":    *logLevel,
		"metrics":      *metricsAddr,
	}
	flag.Visit(func(f *flag.Flag) {
		if dst, ok := overrides[f.Name]; ok {
			*dst = values[f.Name]
		}
		switch f.Name {
		case "metrics":
			cfg.Metrics.Enabled = *metricsAddr != ""
		case "advertise":
			cfg.Discovery.Enabled = *advertise
		}
	})

	return cfg, cfg.Validate()
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bbConfig := cfg.BackboneConfig()
	bbConfig.Logger = logger

	if cfg.Log.CaptureFile != "" {
		fl, err := ipclog.NewFileLogger(cfg.Log.CaptureFile)
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer fl.Close()
		bbConfig.Capture = fl
		logger.Info("protocol capture enabled", slog.String("file", cfg.Log.CaptureFile))
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		bbConfig.Observer = metrics.NewBackbone(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsServer = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		logger.Info("metrics enabled", slog.String("addr", cfg.Metrics.Address))
	}

	bb, err := backbone.New(bbConfig)
	if err != nil {
		return err
	}
	if err := bb.Start(ctx); err != nil {
		return err
	}

	if cfg.Discovery.Enabled {
		adv, err := advertiseBackbone(ctx, cfg, bb, bbConfig.Version)
		if err != nil {
			logger.Warn("mDNS advertisement failed", slog.Any("error", err))
		} else {
			defer adv.Stop()
			logger.Info("advertising over mDNS", slog.String("service", discovery.ServiceType))
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return bb.Stop()
}

func advertiseBackbone(ctx context.Context, cfg *config.Config, bb *backbone.Backbone, version string) (*discovery.MDNSAdvertiser, error) {
	adv, err := discovery.NewMDNSAdvertiser(cfg.AdvertiserConfig())
	if err != nil {
		return nil, err
	}
	info := &discovery.BackboneInfo{
		Instance: cfg.Discovery.Instance,
		ReqPort:  portOf(bb.ReqAddr()),
		PubPort:  portOf(bb.PubAddr()),
		SubPort:  portOf(bb.SubAddr()),
		Version:  version,
	}
	if err := adv.Advertise(ctx, info); err != nil {
		return nil, err
	}
	return adv, nil
}

func portOf(addr net.Addr) uint16 {
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseUint(p, 10, 16)
	return uint16(n)
}
