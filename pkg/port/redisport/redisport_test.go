package redisport

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

func TestPattern(t *testing.T) {
	tests := map[string]string{
		"":               "*",
		"notify.":        "notify.*",
		"gaze.3d":        "gaze.3d*",
		"odd*[topic]?\\": `odd\*\[topic\]\?\\*`,
	}
	for prefix, want := range tests {
		assert.Equal(t, want, Pattern(prefix), "prefix %q", prefix)
	}
}

func TestUnescape(t *testing.T) {
	for _, prefix := range []string{"", "notify.", "odd*[topic]?\\", `a\b`} {
		assert.Equal(t, prefix, unescape(Pattern(prefix)), "prefix %q", prefix)
	}
}

func TestOwnerOfPrefersOldestPattern(t *testing.T) {
	active := map[string]activePattern{
		"notify.calibration.*": {prefix: "notify.calibration.", seq: 1},
		"notify.*":             {prefix: "notify.", seq: 2},
		"gaze.*":               {prefix: "gaze.", seq: 3},
	}

	owner, ok := ownerOf("notify.calibration.started", active)
	require.True(t, ok)
	assert.Equal(t, "notify.calibration.*", owner)

	owner, ok = ownerOf("notify.recording.started", active)
	require.True(t, ok)
	assert.Equal(t, "notify.*", owner)

	_, ok = ownerOf("pupil.0", active)
	assert.False(t, ok)

	active["*"] = activePattern{prefix: "", seq: 4}
	owner, ok = ownerOf("pupil.0", active)
	require.True(t, ok)
	assert.Equal(t, "*", owner)
}

func newStreamSubscriber(prefixes ...string) *Subscriber {
	s := &Subscriber{
		prefixes: topic.NewSet(),
		acks:     make(map[string]chan struct{}),
		active:   make(map[string]activePattern),
		logger:   slog.Default(),
	}
	for _, p := range prefixes {
		s.prefixes.Add(p)
	}
	s.inbox = port.NewInbox(16, s.prefixes)
	return s
}

func receiveAll(t *testing.T, s *Subscriber) []string {
	t.Helper()
	var got []string
	for s.Pending() {
		topicName, _, err := s.Receive(time.Millisecond)
		require.NoError(t, err)
		got = append(got, topicName)
	}
	return got
}

func TestOverlappingPatternsDeliverOnce(t *testing.T) {
	s := newStreamSubscriber("a.b.", "a.")
	pmsg := func(channel, pattern string) *redis.Message {
		return &redis.Message{Channel: channel, Pattern: pattern}
	}

	s.confirm(&redis.Subscription{Kind: "psubscribe", Channel: "a.b.*"})
	s.deliver(pmsg("a.b.0", "a.b.*"))

	// a.* is confirmed after a.b.*, so a.b.* keeps its channels.
	s.confirm(&redis.Subscription{Kind: "psubscribe", Channel: "a.*"})
	s.deliver(pmsg("a.b.1", "a.b.*"))
	s.deliver(pmsg("a.b.1", "a.*"))
	s.deliver(pmsg("a.c", "a.*"))

	// Until the punsubscribe confirmation a.b.* still owns a.b.2.
	s.deliver(pmsg("a.b.2", "a.*"))
	s.deliver(pmsg("a.b.2", "a.b.*"))
	s.confirm(&redis.Subscription{Kind: "punsubscribe", Channel: "a.b.*"})
	s.deliver(pmsg("a.b.3", "a.*"))

	assert.Equal(t, []string{"a.b.0", "a.b.1", "a.c", "a.b.2", "a.b.3"}, receiveAll(t, s))
}

func TestConfirmIgnoresRepeatedSubscription(t *testing.T) {
	s := newStreamSubscriber()
	s.confirm(&redis.Subscription{Kind: "psubscribe", Channel: "a.*"})
	s.confirm(&redis.Subscription{Kind: "psubscribe", Channel: "b.*"})
	s.confirm(&redis.Subscription{Kind: "psubscribe", Channel: "a.*"})

	assert.Equal(t, uint64(1), s.active["a.*"].seq)
	assert.Equal(t, "a.", s.active["a.*"].prefix)
}

func TestDialRequesterUnsupported(t *testing.T) {
	_, err := NewDialer(Config{}).DialRequester(context.Background(), "redis://127.0.0.1:6379")
	assert.ErrorIs(t, err, port.ErrUnsupported)
}

func TestDialErrors(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	d := NewDialer(Config{})
	ctx := context.Background()

	_, err = d.DialPublisher(ctx, "not a url")
	assert.ErrorIs(t, err, port.ErrTransport)

	_, err = d.DialPublisher(ctx, "redis://"+addr)
	assert.ErrorIs(t, err, port.ErrTransport)
	_, err = d.DialSubscriber(ctx, "redis://"+addr)
	assert.ErrorIs(t, err, port.ErrTransport)
}

func TestDefaults(t *testing.T) {
	d := NewDialer(Config{})
	assert.Equal(t, DefaultAckTimeout, d.config.AckTimeout)
	assert.NotNil(t, d.config.Logger)
}
