// Package metrics exports Prometheus metrics for the coalescing dispatcher
// and the backbone broker.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ipc-backbone/ipc-go/pkg/backbone"
	"github.com/ipc-backbone/ipc-go/pkg/coalesce"
)

// Namespace prefixes every metric name.
const Namespace = "ipc"

// DefaultAddress is the default listen address of the metrics endpoint.
const DefaultAddress = ":9102"

// Dispatch records coalescing scheduler events. It implements
// coalesce.Observer.
type Dispatch struct {
	scheduled *prometheus.CounterVec
	coalesced *prometheus.CounterVec
	flushed   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	window    prometheus.Histogram
}

// NewDispatch registers the dispatcher metrics with reg.
func NewDispatch(reg prometheus.Registerer) *Dispatch {
	f := promauto.With(reg)
	return &Dispatch{
		scheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "scheduled_total",
			Help:      "Delayed notifications that opened a coalescing window.",
		}, []string{"subject"}),
		coalesced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "coalesced_total",
			Help:      "Delayed notifications merged into an open window.",
		}, []string{"subject"}),
		flushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "flushed_total",
			Help:      "Coalesced notifications sent on delayed_notify.",
		}, []string{"subject"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Coalesced notifications lost to transport errors.",
		}, []string{"subject"}),
		window: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "window_seconds",
			Help:      "Time from the first notification of a window to its flush.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// OnScheduled implements coalesce.Observer.
func (d *Dispatch) OnScheduled(subject string) {
	d.scheduled.WithLabelValues(subject).Inc()
}

// OnCoalesced implements coalesce.Observer.
func (d *Dispatch) OnCoalesced(subject string) {
	d.coalesced.WithLabelValues(subject).Inc()
}

// OnFlushed implements coalesce.Observer.
func (d *Dispatch) OnFlushed(subject string, age time.Duration) {
	d.flushed.WithLabelValues(subject).Inc()
	d.window.Observe(age.Seconds())
}

// OnDropped implements coalesce.Observer.
func (d *Dispatch) OnDropped(subject string, _ error) {
	d.dropped.WithLabelValues(subject).Inc()
}

// Backbone records broker routing events. It implements backbone.Observer.
type Backbone struct {
	published   *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	requests    *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewBackbone registers the backbone metrics with reg.
func NewBackbone(reg prometheus.Registerer) *Backbone {
	f := promauto.With(reg)
	return &Backbone{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "backbone",
			Name:      "published_total",
			Help:      "Messages routed, by topic root.",
		}, []string{"root"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "backbone",
			Name:      "delivered_total",
			Help:      "Messages queued for subscribers, by topic root.",
		}, []string{"root"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "backbone",
			Name:      "dropped_total",
			Help:      "Messages dropped because a subscriber queue was full, by topic root.",
		}, []string{"root"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "backbone",
			Name:      "requests_total",
			Help:      "Requests answered, by command.",
		}, []string{"command"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "backbone",
			Name:      "subscribers",
			Help:      "Connected subscribers.",
		}),
	}
}

// OnPublish implements backbone.Observer.
func (b *Backbone) OnPublish(topic string, delivered int) {
	root := Root(topic)
	b.published.WithLabelValues(root).Inc()
	b.delivered.WithLabelValues(root).Add(float64(delivered))
}

// OnDrop implements backbone.Observer.
func (b *Backbone) OnDrop(topic string) {
	b.dropped.WithLabelValues(Root(topic)).Inc()
}

// OnRequest implements backbone.Observer.
func (b *Backbone) OnRequest(command string) {
	b.requests.WithLabelValues(command).Inc()
}

// OnSubscribers implements backbone.Observer.
func (b *Backbone) OnSubscribers(n int) {
	b.subscribers.Set(float64(n))
}

// Root returns the first segment of a topic, which keeps label
// cardinality bounded.
func Root(topic string) string {
	if i := strings.IndexByte(topic, '.'); i >= 0 {
		return topic[:i]
	}
	return topic
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var (
	_ coalesce.Observer = (*Dispatch)(nil)
	_ backbone.Observer = (*Backbone)(nil)
)
