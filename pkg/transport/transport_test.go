package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s
}

func testDialConfig() DialConfig {
	return DialConfig{
		HandshakeTimeout: time.Second,
		AckTimeout:       time.Second,
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"127.0.0.1:50021", "127.0.0.1:50021", false},
		{"tcp://localhost:50022", "localhost:50022", false},
		{"tcp://*:50023", ":50023", false},
		{":50024", ":50024", false},
		{"udp://localhost:1", "", true},
		{"localhost", "", true},
		{"localhost:", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEndpoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(ServerConfig{Address: "127.0.0.1:0"})
	assert.Error(t, err)
	_, err = NewServer(ServerConfig{Role: wire.RolePublisher})
	assert.Error(t, err)
}

func TestPublisherDeliversFrames(t *testing.T) {
	got := make(chan *wire.Frame, 4)
	s := startServer(t, ServerConfig{
		Role: wire.RolePublisher,
		OnFrame: func(_ *ServerConn, f *wire.Frame) {
			got <- f
		},
	})

	ctx := context.Background()
	p, err := DialPublisher(ctx, s.Addr().String(), testDialConfig())
	require.NoError(t, err)
	defer p.Close()
	assert.NotEmpty(t, p.ID())

	payload, err := wire.EncodePayload(map[string]any{"subject": "alpha"})
	require.NoError(t, err)
	require.NoError(t, p.Send("notify.alpha", payload))

	select {
	case f := <-got:
		assert.Equal(t, wire.KindPublish, f.Kind)
		assert.Equal(t, "notify.alpha", f.Topic)
		fields, err := wire.DecodeFields(f.Payload)
		require.NoError(t, err)
		assert.Equal(t, "alpha", fields["subject"])
	case <-time.After(2 * time.Second):
		t.Fatal("publish frame not received")
	}
}

func TestPublisherSendAfterClose(t *testing.T) {
	s := startServer(t, ServerConfig{Role: wire.RolePublisher})

	p, err := DialPublisher(context.Background(), s.Addr().String(), testDialConfig())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	err = p.Send("notify.x", nil)
	assert.ErrorIs(t, err, port.ErrTransport)
	assert.ErrorIs(t, err, port.ErrConnectionClosed)
}

func TestRoleMismatchRejected(t *testing.T) {
	var mu sync.Mutex
	var serverErr error
	s := startServer(t, ServerConfig{
		Role: wire.RoleSubscriber,
		OnError: func(_ *ServerConn, err error) {
			mu.Lock()
			defer mu.Unlock()
			serverErr = err
		},
	})

	_, err := DialPublisher(context.Background(), s.Addr().String(), testDialConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrTransport)
	assert.ErrorIs(t, err, ErrHandshake)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(serverErr, ErrRoleMismatch)
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.ConnectionCount())
}

// subscriberServer acks subscription changes and publishes whatever is
// pushed to the returned function.
func subscriberServer(t *testing.T) (*Server, func(topic string, payload []byte)) {
	t.Helper()
	var mu sync.Mutex
	var conns []*ServerConn
	s := startServer(t, ServerConfig{
		Role: wire.RoleSubscriber,
		OnConnect: func(c *ServerConn) {
			mu.Lock()
			defer mu.Unlock()
			conns = append(conns, c)
		},
		OnFrame: func(c *ServerConn, f *wire.Frame) {
			if f.Kind == wire.KindSubscribe || f.Kind == wire.KindUnsubscribe {
				_ = c.Send(&wire.Frame{Kind: wire.KindAck, Topic: f.Topic})
			}
		},
	})
	publish := func(topic string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Send(wire.NewPublish(topic, payload))
		}
	}
	return s, publish
}

func TestSubscriberReceivesSubscribedTopics(t *testing.T) {
	s, publish := subscriberServer(t)

	sub, err := DialSubscriber(context.Background(), s.Addr().String(), testDialConfig())
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sub.Subscribe("notify."))
	assert.Equal(t, []string{"notify."}, sub.Prefixes())

	publish("logging.INFO", []byte{0x01})
	publish("notify.alpha", []byte{0x02})

	topic, payload, err := sub.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "notify.alpha", topic)
	assert.Equal(t, []byte{0x02}, payload)

	_, _, err = sub.Receive(50 * time.Millisecond)
	assert.ErrorIs(t, err, port.ErrTimeout)
	assert.False(t, sub.Pending())
}

func TestSubscriberRefCountedUnsubscribe(t *testing.T) {
	s, publish := subscriberServer(t)

	sub, err := DialSubscriber(context.Background(), s.Addr().String(), testDialConfig())
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sub.Subscribe("notify."))
	require.NoError(t, sub.Subscribe("notify."))
	require.NoError(t, sub.Unsubscribe("notify."))
	assert.Equal(t, []string{"notify."}, sub.Prefixes())

	publish("notify.a", []byte{0x01})
	_, _, err = sub.Receive(2 * time.Second)
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe("notify."))
	assert.Empty(t, sub.Prefixes())

	publish("notify.b", []byte{0x02})
	_, _, err = sub.Receive(100 * time.Millisecond)
	assert.ErrorIs(t, err, port.ErrTimeout)
}

func TestSubscribeAckTimeout(t *testing.T) {
	s := startServer(t, ServerConfig{Role: wire.RoleSubscriber})

	cfg := testDialConfig()
	cfg.AckTimeout = 50 * time.Millisecond
	sub, err := DialSubscriber(context.Background(), s.Addr().String(), cfg)
	require.NoError(t, err)
	defer sub.Close()

	err = sub.Subscribe("notify.")
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.ErrorIs(t, err, port.ErrTransport)
	assert.Empty(t, sub.Prefixes())
}

func TestSubscriberCloseUnblocksReceive(t *testing.T) {
	s, _ := subscriberServer(t)

	sub, err := DialSubscriber(context.Background(), s.Addr().String(), testDialConfig())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := sub.Receive(0)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, port.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after Close")
	}
}

func TestSubscriberSeesServerStop(t *testing.T) {
	s, _ := subscriberServer(t)

	sub, err := DialSubscriber(context.Background(), s.Addr().String(), testDialConfig())
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Stop())

	_, _, err = sub.Receive(2 * time.Second)
	assert.ErrorIs(t, err, port.ErrTransport)
}

func TestRequesterRoundTrip(t *testing.T) {
	s := startServer(t, ServerConfig{
		Role: wire.RoleRequester,
		OnFrame: func(c *ServerConn, f *wire.Frame) {
			if f.Kind != wire.KindRequest {
				return
			}
			_ = c.Send(wire.NewReply(strings.ToUpper(f.Topic)))
		},
	})

	req, err := DialRequester(context.Background(), s.Addr().String(), testDialConfig())
	require.NoError(t, err)
	defer req.Close()

	require.NoError(t, req.SendRequest("ping", nil))
	body, err := req.ReceiveReply(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PING", body)

	_, err = req.ReceiveReply(50 * time.Millisecond)
	assert.ErrorIs(t, err, port.ErrTimeout)
}

func TestRequesterAfterClose(t *testing.T) {
	s := startServer(t, ServerConfig{Role: wire.RoleRequester})

	req, err := DialRequester(context.Background(), s.Addr().String(), testDialConfig())
	require.NoError(t, err)
	require.NoError(t, req.Close())

	assert.ErrorIs(t, req.SendRequest("t", nil), port.ErrTransport)
	_, err = req.ReceiveReply(time.Second)
	assert.ErrorIs(t, err, port.ErrConnectionClosed)
}

func TestDialSingleAttemptFails(t *testing.T) {
	addr := unusedAddr(t)

	cfg := testDialConfig()
	start := time.Now()
	_, err := DialPublisher(context.Background(), addr, cfg)
	assert.ErrorIs(t, err, port.ErrTransport)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDialBlocksUntilBackboneStarts(t *testing.T) {
	addr := unusedAddr(t)

	started := make(chan *Server, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		s, err := NewServer(ServerConfig{Address: addr, Role: wire.RolePublisher})
		if err == nil && s.Start(context.Background()) == nil {
			started <- s
			return
		}
		started <- nil
	}()

	cfg := testDialConfig()
	cfg.BlockUntilConnected = true
	cfg.Backoff = BackoffConfig{Initial: 20 * time.Millisecond, Max: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	p, err := DialPublisher(ctx, addr, cfg)
	require.NoError(t, err)
	p.Close()

	if s := <-started; s != nil {
		s.Stop()
	}
}

func TestDialBlockingRespectsContext(t *testing.T) {
	addr := unusedAddr(t)

	cfg := testDialConfig()
	cfg.BlockUntilConnected = true
	cfg.Backoff = BackoffConfig{Initial: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := DialSubscriber(ctx, addr, cfg)
	assert.ErrorIs(t, err, port.ErrTransport)
}

func TestDialerImplementsPortDialer(t *testing.T) {
	s := startServer(t, ServerConfig{Role: wire.RoleRequester})

	var d port.Dialer = NewDialer(testDialConfig())
	_, err := d.DialPublisher(context.Background(), unusedAddr(t))
	assert.Error(t, err)

	r, err := d.DialRequester(context.Background(), s.Addr().String())
	require.NoError(t, err)
	assert.NotNil(t, r)
	r.Close()
}

func TestServerTracksConnections(t *testing.T) {
	disconnected := make(chan struct{}, 1)
	s := startServer(t, ServerConfig{
		Role: wire.RolePublisher,
		OnDisconnect: func(*ServerConn) {
			disconnected <- struct{}{}
		},
	})

	p, err := DialPublisher(context.Background(), s.Addr().String(), testDialConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	p.Close()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
	assert.Equal(t, 0, s.ConnectionCount())
}

// unusedAddr returns a loopback address with nothing listening on it.
func unusedAddr(t *testing.T) string {
	t.Helper()
	s, err := NewServer(ServerConfig{Address: "127.0.0.1:0", Role: wire.RolePublisher})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	addr := s.Addr().String()
	require.NoError(t, s.Stop())
	return addr
}
