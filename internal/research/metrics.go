package research

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for research streams. A nil *Metrics
// records nothing.
type Metrics struct {
	streams  *prometheus.CounterVec
	retries  *prometheus.CounterVec
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

// MustNewMetrics creates the collectors and registers them with reg. Collectors
// that are already registered are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research",
			Name:      "streams_total",
			Help:      "Research streams finished, by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research",
			Name:      "retries_total",
			Help:      "Attempts retried after a transient platform failure.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research",
			Name:      "events_total",
			Help:      "Stream events emitted to clients, by type.",
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "research",
			Name:      "stream_duration_seconds",
			Help:      "Wall time of research streams from start to terminal event.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "research",
			Name:      "active_workers",
			Help:      "Research workers currently holding a pool slot.",
		}),
	}
	m.streams = register(reg, m.streams)
	m.retries = register(reg, m.retries)
	m.events = register(reg, m.events)
	m.duration = register(reg, m.duration)
	m.active = register(reg, m.active)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observeEvent(ev StreamEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(ev.Type)).Inc()
}

func (m *Metrics) observeRetry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeFinished(outcome EventType, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(string(outcome)).Inc()
	m.duration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) workerStopped() {
	if m == nil {
		return
	}
	m.active.Dec()
}
