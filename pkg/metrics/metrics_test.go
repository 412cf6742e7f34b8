package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of the series name{label=value}, or of the
// unlabeled series when label is empty.
func gathered(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" {
				match := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == label && lp.GetValue() == value {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("series %s{%s=%q} not found", name, label, value)
	return 0
}

func TestDispatchCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDispatch(reg)

	d.OnScheduled("A")
	d.OnCoalesced("A")
	d.OnCoalesced("A")
	d.OnFlushed("A", 100*time.Millisecond)
	d.OnDropped("B", errors.New("broken pipe"))

	assert.Equal(t, 1.0, gathered(t, reg, "ipc_dispatch_scheduled_total", "subject", "A"))
	assert.Equal(t, 2.0, gathered(t, reg, "ipc_dispatch_coalesced_total", "subject", "A"))
	assert.Equal(t, 1.0, gathered(t, reg, "ipc_dispatch_flushed_total", "subject", "A"))
	assert.Equal(t, 1.0, gathered(t, reg, "ipc_dispatch_dropped_total", "subject", "B"))
	assert.Equal(t, 1.0, gathered(t, reg, "ipc_dispatch_window_seconds", "", ""))
}

func TestBackboneCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := NewBackbone(reg)

	b.OnPublish("notify.calibration.started", 3)
	b.OnPublish("notify.recording.started", 0)
	b.OnDrop("gaze.3d.0")
	b.OnRequest("t")
	b.OnSubscribers(4)

	assert.Equal(t, 2.0, gathered(t, reg, "ipc_backbone_published_total", "root", "notify"))
	assert.Equal(t, 3.0, gathered(t, reg, "ipc_backbone_delivered_total", "root", "notify"))
	assert.Equal(t, 1.0, gathered(t, reg, "ipc_backbone_dropped_total", "root", "gaze"))
	assert.Equal(t, 1.0, gathered(t, reg, "ipc_backbone_requests_total", "command", "t"))
	assert.Equal(t, 4.0, gathered(t, reg, "ipc_backbone_subscribers", "", ""))
}

func TestRoot(t *testing.T) {
	tests := map[string]string{
		"notify.a.b":       "notify",
		"delayed_notify.x": "delayed_notify",
		"logging.warning":  "logging",
		"standalone":       "standalone",
		"":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Root(in), in)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewBackbone(reg).OnSubscribers(2)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ipc_backbone_subscribers 2")
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewDispatch(reg)
	assert.Panics(t, func() { NewDispatch(reg) })
}
