package backbone

import (
	"log/slog"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/log"
	"github.com/ipc-backbone/ipc-go/pkg/version"
)

// Default listen addresses.
const (
	DefaultReqAddress = ":50020"
	DefaultPubAddress = ":50021"
	DefaultSubAddress = ":50022"
)

// DefaultQueueSize is the default number of frames queued per subscriber.
const DefaultQueueSize = 1024

// CommandFunc answers a custom request command. payload is the raw request
// payload, usually empty.
type CommandFunc func(payload []byte) string

// Observer receives routing events. Methods must not block.
type Observer interface {
	// OnPublish reports a message and how many subscribers it was queued for.
	OnPublish(topic string, delivered int)

	// OnDrop reports a message dropped because a subscriber queue was full.
	OnDrop(topic string)

	// OnRequest reports a handled request with its command or topic.
	OnRequest(command string)

	// OnSubscribers reports the current number of subscriber connections.
	OnSubscribers(n int)
}

// Config configures a Backbone.
type Config struct {
	// ReqAddress is the request/reply listen address (default ":50020").
	ReqAddress string

	// PubAddress is where publishers connect (default ":50021").
	PubAddress string

	// SubAddress is where subscribers connect (default ":50022").
	SubAddress string

	// Version is returned for the "v" command (default version.Current).
	Version string

	// Commands adds request commands. Built-in commands cannot be replaced.
	Commands map[string]CommandFunc

	// QueueSize bounds the outgoing queue of each subscriber (default 1024).
	// When it is full, new messages for that subscriber are dropped.
	QueueSize int

	// MaxMessageSize is the maximum frame size (default 1 MB).
	MaxMessageSize uint32

	// HandshakeTimeout bounds waiting for a client hello (default 5s).
	HandshakeTimeout time.Duration

	// Clock returns the time reported for the "t" command.
	// Defaults to seconds since the Unix epoch.
	Clock func() float64

	// Observer receives routing events. Optional.
	Observer Observer

	// Capture records frames on every endpoint. Optional.
	Capture log.Logger

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default backbone configuration.
func DefaultConfig() Config {
	return Config{
		ReqAddress: DefaultReqAddress,
		PubAddress: DefaultPubAddress,
		SubAddress: DefaultSubAddress,
		QueueSize:  DefaultQueueSize,
		Version:    version.Current,
	}
}

func (c *Config) applyDefaults() {
	if c.ReqAddress == "" {
		c.ReqAddress = DefaultReqAddress
	}
	if c.PubAddress == "" {
		c.PubAddress = DefaultPubAddress
	}
	if c.SubAddress == "" {
		c.SubAddress = DefaultSubAddress
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Version == "" {
		c.Version = version.Current
	}
	if c.Clock == nil {
		c.Clock = func() float64 {
			return float64(time.Now().UnixNano()) / 1e9
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
