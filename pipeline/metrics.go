package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

// Metrics exposes pipeline counters over Prometheus. Hot-path code bumps
// the atomics; the registry reads them lazily on scrape.
type Metrics struct {
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64
	TicksOverBudget atomic.Uint64
	EventsBuilt     atomic.Uint64
	SlotTransitions atomic.Uint64

	registry *prometheus.Registry
}

// NewMetrics builds the counter set and its registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	for _, g := range []struct {
		name string
		help string
		val  *atomic.Uint64
	}{
		{"pipeline_frames_processed_total", "Frames that went through the full perception pass.", &m.FramesProcessed},
		{"pipeline_frames_skipped_total", "Frames skipped by the adaptive interval.", &m.FramesSkipped},
		{"pipeline_ticks_over_budget_total", "Ticks that exceeded the target latency.", &m.TicksOverBudget},
		{"pipeline_events_built_total", "Detection events handed to the publisher.", &m.EventsBuilt},
		{"pipeline_slot_transitions_total", "Slot occupancy state transitions emitted.", &m.SlotTransitions},
	} {
		val := g.val
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}, func() float64 { return float64(val.Load()) }))
	}
	return m
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
