package natsport

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

func TestCoverSubject(t *testing.T) {
	tests := map[string]string{
		"":                    ">",
		"notify":              ">",
		"notify.":             "notify.>",
		"notify.calibration":  "notify.>",
		"notify.calibration.": "notify.calibration.>",
		"logging.warn":        "logging.>",
	}
	for prefix, want := range tests {
		assert.Equal(t, want, CoverSubject(prefix), "prefix %q", prefix)
	}
}

func TestOwnerOfPrefersOldestCover(t *testing.T) {
	notifyCal := &coverSub{subject: "notify.calibration.>", seq: 1}
	notify := &coverSub{subject: "notify.>", seq: 2}
	gaze := &coverSub{subject: "gaze.>", seq: 3}
	covers := []*coverSub{notify, notifyCal, gaze}

	assert.Same(t, notifyCal, ownerOf("notify.calibration.started", covers))
	assert.Same(t, notify, ownerOf("notify.recording.started", covers))
	assert.Same(t, gaze, ownerOf("gaze.3d.0", covers))
	assert.Nil(t, ownerOf("pupil.0", covers))

	all := &coverSub{subject: ">", seq: 4}
	covers = append(covers, all)
	assert.Same(t, notifyCal, ownerOf("notify.calibration.started", covers))
	assert.Same(t, all, ownerOf("pupil.0", covers))
}

// newStreamSubscriber returns a subscriber without a connection whose
// covers are set up by the test.
func newStreamSubscriber(prefixes ...string) *Subscriber {
	s := &Subscriber{
		prefixes: topic.NewSet(),
		subs:     make(map[string]*coverSub),
		logger:   slog.Default(),
		msgs:     make(chan *nats.Msg, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, p := range prefixes {
		s.prefixes.Add(p)
	}
	s.inbox = port.NewInbox(16, s.prefixes)
	return s
}

func (s *Subscriber) addTestCover(subject string) *coverSub {
	s.seq++
	cs := &coverSub{subject: subject, sub: &nats.Subscription{Subject: subject}, refs: 1, seq: s.seq}
	s.subs[subject] = cs
	s.covers = append(s.covers, cs)
	return cs
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

func TestOverlappingCoversDeliverOnce(t *testing.T) {
	s := newStreamSubscriber("a.b.", "a.")
	narrow := s.addTestCover("a.b.>")

	// The broader cover is newer: copies it receives for a.b.* belong to
	// the narrow cover, including while its subscription is unconfirmed.
	broad := s.addTestCover("a.>")

	s.deliver(&nats.Msg{Subject: "a.b.x", Sub: narrow.sub})
	s.deliver(&nats.Msg{Subject: "a.b.x", Sub: broad.sub})
	s.deliver(&nats.Msg{Subject: "a.c", Sub: broad.sub})
	s.deliver(&nats.Msg{Subject: "a.b.y", Sub: broad.sub})
	s.deliver(&nats.Msg{Subject: "a.b.y", Sub: narrow.sub})

	assert.Equal(t, []string{"a.b.x", "a.c", "a.b.y"}, receiveAll(t, s))
}

func TestRetiredCoverOwnsEarlierMessages(t *testing.T) {
	s := newStreamSubscriber("a.")
	narrow := s.addTestCover("a.b.>")
	broad := s.addTestCover("a.>")
	delete(s.subs, narrow.subject)

	go s.run()
	defer func() {
		close(s.stop)
		<-s.done
	}()

	// Copies queued before the unsubscribe was confirmed, then the
	// retirement, then traffic only the broad cover receives.
	s.msgs <- &nats.Msg{Subject: "a.b.1", Sub: broad.sub}
	s.msgs <- &nats.Msg{Subject: "a.b.1", Sub: narrow.sub}
	s.msgs <- &nats.Msg{Sub: narrow.sub}
	s.msgs <- &nats.Msg{Subject: "a.b.2", Sub: broad.sub}

	var got []string
	for len(got) < 2 {
		topicName, _, err := s.Receive(time.Second)
		require.NoError(t, err)
		got = append(got, topicName)
	}
	assert.Equal(t, []string{"a.b.1", "a.b.2"}, got)
	assert.False(t, s.Pending())

	s.mu.Lock()
	assert.Equal(t, []*coverSub{broad}, s.covers)
	s.mu.Unlock()
}

func TestDialUnreachableServer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	d := NewDialer(Config{Name: "test"})
	ctx := context.Background()
	endpoint := "nats://" + addr

	_, err = d.DialPublisher(ctx, endpoint)
	assert.ErrorIs(t, err, port.ErrTransport)
	_, err = d.DialSubscriber(ctx, endpoint)
	assert.ErrorIs(t, err, port.ErrTransport)
	_, err = d.DialRequester(ctx, endpoint)
	assert.ErrorIs(t, err, port.ErrTransport)
}

func TestDialCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDialer(Config{}).DialPublisher(ctx, "nats://127.0.0.1:4222")
	assert.ErrorIs(t, err, port.ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaults(t *testing.T) {
	d := NewDialer(Config{})
	assert.Equal(t, DefaultFlushTimeout, d.config.FlushTimeout)
	assert.NotNil(t, d.config.Logger)

	d = NewDialer(Config{FlushTimeout: time.Second})
	assert.Equal(t, time.Second, d.config.FlushTimeout)
}
