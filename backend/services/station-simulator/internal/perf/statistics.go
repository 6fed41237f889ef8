package perf

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chargesim/backend/services/station-simulator/internal/atg"
)

// Statistics records measure durations for all stations in one registry.
type Statistics struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	now      func() time.Time
}

// NewStatistics registers the measure collectors on a fresh registry.
func NewStatistics() *Statistics {
	registry := prometheus.NewRegistry()
	s := &Statistics{
		registry: registry,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chargesim",
			Name:      "measure_duration_seconds",
			Help:      "Duration of measured station operations.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"station_id", "measure"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chargesim",
			Name:      "measure_total",
			Help:      "Number of completed measures.",
		}, []string{"station_id", "measure"}),
		now: time.Now,
	}
	registry.MustRegister(s.duration, s.total)
	registry.MustRegister(collectors.NewGoCollector())
	return s
}

// Registry exposes the underlying registry.
func (s *Statistics) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (s *Statistics) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ForStation returns a measurer labelled with stationID.
func (s *Statistics) ForStation(stationID string) atg.Measurer {
	return stationMeasurer{stats: s, stationID: stationID}
}

type stationMeasurer struct {
	stats     *Statistics
	stationID string
}

func (m stationMeasurer) Begin(name string) atg.Measurement {
	return &measurement{stats: m.stats, stationID: m.stationID, name: name, begin: m.stats.now()}
}

type measurement struct {
	stats     *Statistics
	stationID string
	name      string
	begin     time.Time
	ended     bool
}

// End records the elapsed time; later calls are ignored.
func (m *measurement) End() {
	if m.ended {
		return
	}
	m.ended = true
	elapsed := m.stats.now().Sub(m.begin)
	m.stats.duration.WithLabelValues(m.stationID, m.name).Observe(elapsed.Seconds())
	m.stats.total.WithLabelValues(m.stationID, m.name).Inc()
}
