// Package config loads the YAML configuration shared by the ipc binaries.
//
// Every field is optional. Load starts from Default and overlays the file,
// so a file only needs the values it changes:
//
//	backbone:
//	  req_address: ":50020"
//	  queue_size: 4096
//	client:
//	  transport: tcp
//	  endpoint: tcp://127.0.0.1:50020
//	  handshake_timeout: 2s
//	metrics:
//	  enabled: true
//	discovery:
//	  enabled: true
//	  instance: lab-1
//
// Durations use Go duration syntax ("250ms", "5s").
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ipc-backbone/ipc-go/pkg/backbone"
	"github.com/ipc-backbone/ipc-go/pkg/discovery"
	"github.com/ipc-backbone/ipc-go/pkg/ipc"
	"github.com/ipc-backbone/ipc-go/pkg/metrics"
	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/port/natsport"
	"github.com/ipc-backbone/ipc-go/pkg/port/redisport"
	"github.com/ipc-backbone/ipc-go/pkg/transport"
)

// Transport names accepted in client.transport.
const (
	TransportTCP   = "tcp"
	TransportNATS  = "nats"
	TransportRedis = "redis"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the root of the configuration file.
type Config struct {
	Backbone  BackboneConfig  `yaml:"backbone"`
	Client    ClientConfig    `yaml:"client"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
}

// BackboneConfig configures the broker.
type BackboneConfig struct {
	ReqAddress       string   `yaml:"req_address"`
	PubAddress       string   `yaml:"pub_address"`
	SubAddress       string   `yaml:"sub_address"`
	QueueSize        int      `yaml:"queue_size"`
	MaxMessageSize   uint32   `yaml:"max_message_size"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	Version          string   `yaml:"version"`
}

// ClientConfig configures how clients reach a backbone.
type ClientConfig struct {
	// Transport is tcp, nats or redis.
	Transport string `yaml:"transport"`

	// Endpoint is the request endpoint for tcp, or the server URL for
	// nats and redis.
	Endpoint string `yaml:"endpoint"`

	BlockUntilConnected bool     `yaml:"block_until_connected"`
	HandshakeTimeout    Duration `yaml:"handshake_timeout"`
	InboxCapacity       int      `yaml:"inbox_capacity"`

	// LogRate limits forwarded log records per second. Negative disables
	// the limit.
	LogRate int `yaml:"log_rate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Instance  string   `yaml:"instance"`
	Interface string   `yaml:"interface"`
	TTL       Duration `yaml:"ttl"`
}

// LogConfig configures operational and capture logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// CaptureFile receives a CBOR protocol capture when set.
	CaptureFile string `yaml:"capture_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dial := transport.DefaultDialConfig()
	return &Config{
		Backbone: BackboneConfig{
			ReqAddress:       backbone.DefaultReqAddress,
			PubAddress:       backbone.DefaultPubAddress,
			SubAddress:       backbone.DefaultSubAddress,
			QueueSize:        backbone.DefaultQueueSize,
			MaxMessageSize:   transport.DefaultMaxMessageSize,
			HandshakeTimeout: Duration(transport.DefaultHandshakeTimeout),
		},
		Client: ClientConfig{
			Transport:           TransportTCP,
			Endpoint:            "tcp://127.0.0.1" + backbone.DefaultReqAddress,
			BlockUntilConnected: dial.BlockUntilConnected,
			HandshakeTimeout:    Duration(dial.HandshakeTimeout),
			InboxCapacity:       dial.InboxCapacity,
			LogRate:             ipc.DefaultLogRate,
		},
		Metrics: MetricsConfig{
			Address: metrics.DefaultAddress,
		},
		Discovery: DiscoveryConfig{
			TTL: Duration(discovery.DefaultTTL),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the components reject.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	for name, addr := range map[string]string{
		"backbone.req_address": c.Backbone.ReqAddress,
		"backbone.pub_address": c.Backbone.PubAddress,
		"backbone.sub_address": c.Backbone.SubAddress,
	} {
		if addr == "" {
			add("%s is empty", name)
		}
	}
	if c.Backbone.QueueSize < 0 {
		add("backbone.queue_size must not be negative")
	}
	if c.Backbone.HandshakeTimeout < 0 {
		add("backbone.handshake_timeout must not be negative")
	}

	switch c.Client.Transport {
	case TransportTCP:
		if _, err := transport.ParseEndpoint(c.Client.Endpoint); err != nil {
			add("client.endpoint: %v", err)
		}
	case TransportNATS, TransportRedis:
		if c.Client.Endpoint == "" {
			add("client.endpoint is empty")
		}
	default:
		add("client.transport %q is not one of tcp, nats, redis", c.Client.Transport)
	}
	if c.Client.InboxCapacity < 0 {
		add("client.inbox_capacity must not be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		add("metrics.address is empty")
	}
	if c.Discovery.Enabled && c.Discovery.Instance != "" {
		if err := discovery.ValidateInstanceName(c.Discovery.Instance); err != nil {
			add("discovery.instance: %v", err)
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	return errors.Join(errs...)
}

// ParseLevel converts a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", name)
}

// BackboneConfig returns the broker configuration. Observer, Capture and
// Logger are left for the caller.
func (c *Config) BackboneConfig() backbone.Config {
	cfg := backbone.DefaultConfig()
	cfg.ReqAddress = c.Backbone.ReqAddress
	cfg.PubAddress = c.Backbone.PubAddress
	cfg.SubAddress = c.Backbone.SubAddress
	cfg.QueueSize = c.Backbone.QueueSize
	cfg.MaxMessageSize = c.Backbone.MaxMessageSize
	cfg.HandshakeTimeout = time.Duration(c.Backbone.HandshakeTimeout)
	if c.Backbone.Version != "" {
		cfg.Version = c.Backbone.Version
	}
	return cfg
}

// DialConfig returns the TCP dial configuration.
func (c *Config) DialConfig() transport.DialConfig {
	cfg := transport.DefaultDialConfig()
	cfg.BlockUntilConnected = c.Client.BlockUntilConnected
	cfg.HandshakeTimeout = time.Duration(c.Client.HandshakeTimeout)
	cfg.AckTimeout = time.Duration(c.Client.HandshakeTimeout)
	cfg.InboxCapacity = c.Client.InboxCapacity
	return cfg
}

// Dialer returns the port dialer for client.transport.
func (c *Config) Dialer(logger *slog.Logger) (port.Dialer, error) {
	switch c.Client.Transport {
	case TransportTCP, "":
		cfg := c.DialConfig()
		cfg.Logger = logger
		return transport.NewDialer(cfg), nil
	case TransportNATS:
		return natsport.NewDialer(natsport.Config{
			Name:          "ipc-go",
			InboxCapacity: c.Client.InboxCapacity,
			FlushTimeout:  time.Duration(c.Client.HandshakeTimeout),
			Logger:        logger,
		}), nil
	case TransportRedis:
		return redisport.NewDialer(redisport.Config{
			InboxCapacity: c.Client.InboxCapacity,
			AckTimeout:    time.Duration(c.Client.HandshakeTimeout),
			Logger:        logger,
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Client.Transport)
}

// AdvertiserConfig returns the mDNS advertiser configuration.
func (c *Config) AdvertiserConfig() discovery.AdvertiserConfig {
	cfg := discovery.DefaultAdvertiserConfig()
	cfg.Interface = c.Discovery.Interface
	if c.Discovery.TTL > 0 {
		cfg.TTL = time.Duration(c.Discovery.TTL)
	}
	return cfg
}

// BrowserConfig returns the mDNS browser configuration.
func (c *Config) BrowserConfig() discovery.BrowserConfig {
	cfg := discovery.DefaultBrowserConfig()
	cfg.Interface = c.Discovery.Interface
	return cfg
}

// Endpoints resolves the backbone endpoints for client.transport. TCP asks
// the request endpoint for the publish and subscribe ports. Broker
// transports reach every role through client.endpoint.
func (c *Config) Endpoints(ctx context.Context, d port.Dialer) (ipc.Endpoints, error) {
	switch c.Client.Transport {
	case TransportNATS, TransportRedis:
		return ipc.Endpoints{Pub: c.Client.Endpoint, Sub: c.Client.Endpoint, Req: c.Client.Endpoint}, nil
	}
	return ipc.DiscoverEndpoints(ctx, d, c.Client.Endpoint)
}
