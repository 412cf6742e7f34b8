package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipc-backbone/ipc-go/pkg/port/natsport"
	"github.com/ipc-backbone/ipc-go/pkg/port/redisport"
	"github.com/ipc-backbone/ipc-go/pkg/transport"
	"github.com/ipc-backbone/ipc-go/pkg/version"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":50020", cfg.Backbone.ReqAddress)
	assert.Equal(t, TransportTCP, cfg.Client.Transport)
	assert.Equal(t, "tcp://127.0.0.1:50020", cfg.Client.Endpoint)
	assert.Equal(t, ":9102", cfg.Metrics.Address)
	assert.Equal(t, Duration(120*time.Second), cfg.Discovery.TTL)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
backbone:
  req_address: ":6000"
  queue_size: 64
  handshake_timeout: 250ms
client:
  handshake_timeout: 2s
  block_until_connected: false
discovery:
  enabled: true
  instance: lab-1
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Backbone.ReqAddress)
	assert.Equal(t, ":50021", cfg.Backbone.PubAddress)
	assert.Equal(t, 64, cfg.Backbone.QueueSize)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.Backbone.HandshakeTimeout)
	assert.False(t, cfg.Client.BlockUntilConnected)
	assert.Equal(t, "lab-1", cfg.Discovery.Instance)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "backbone:\n  req_adress: \":1\"\n",
		"bad duration":    "client:\n  handshake_timeout: soon\n",
		"bad transport":   "client:\n  transport: zmq\n",
		"bad endpoint":    "client:\n  endpoint: \"udp://x:1\"\n",
		"empty address":   "backbone:\n  sub_address: \"\"\n",
		"negative queue":  "backbone:\n  queue_size: -1\n",
		"bad level":       "log:\n  level: loud\n",
		"metrics no addr": "metrics:\n  enabled: true\n  address: \"\"\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestValidateWrapsErrInvalid(t *testing.T) {
	cfg := Default()
	cfg.Client.Transport = "carrier-pigeon"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "carrier-pigeon")
	assert.Contains(t, err.Error(), "loud")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  enabled: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Metrics.Enabled)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationMarshal(t *testing.T) {
	v, err := Duration(1500 * time.Millisecond).MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", v)
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "INFO", "", "warn", "warning", "error"} {
		_, err := ParseLevel(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestBackboneConfig(t *testing.T) {
	cfg := Default()
	cfg.Backbone.HandshakeTimeout = Duration(time.Second)

	bc := cfg.BackboneConfig()
	assert.Equal(t, ":50022", bc.SubAddress)
	assert.Equal(t, time.Second, bc.HandshakeTimeout)
	assert.Equal(t, version.Current, bc.Version)

	cfg.Backbone.Version = "9.9.9"
	assert.Equal(t, "9.9.9", cfg.BackboneConfig().Version)
}

func TestDialerSelectsTransport(t *testing.T) {
	cfg := Default()

	d, err := cfg.Dialer(nil)
	require.NoError(t, err)
	assert.IsType(t, &transport.Dialer{}, d)

	cfg.Client.Transport = TransportNATS
	d, err = cfg.Dialer(nil)
	require.NoError(t, err)
	assert.IsType(t, &natsport.Dialer{}, d)

	cfg.Client.Transport = TransportRedis
	d, err = cfg.Dialer(nil)
	require.NoError(t, err)
	assert.IsType(t, &redisport.Dialer{}, d)

	cfg.Client.Transport = "zmq"
	_, err = cfg.Dialer(nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAdvertiserConfig(t *testing.T) {
	cfg := Default()
	cfg.Discovery.Interface = "eth0"
	cfg.Discovery.TTL = Duration(30 * time.Second)

	ac := cfg.AdvertiserConfig()
	assert.Equal(t, "eth0", ac.Interface)
	assert.Equal(t, 30*time.Second, ac.TTL)
}

func TestBrokerEndpointsShareURL(t *testing.T) {
	cfg := Default()
	cfg.Client.Transport = TransportNATS
	cfg.Client.Endpoint = "nats://127.0.0.1:4222"

	ep, err := cfg.Endpoints(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Client.Endpoint, ep.Pub)
	assert.Equal(t, cfg.Client.Endpoint, ep.Sub)
	assert.Equal(t, cfg.Client.Endpoint, ep.Req)
}

func TestBrowserConfig(t *testing.T) {
	cfg := Default()
	cfg.Discovery.Interface = "wlan0"
	assert.Equal(t, "wlan0", cfg.BrowserConfig().Interface)
}
