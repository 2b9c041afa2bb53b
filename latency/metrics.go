package latency

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// Stage names one timed section of the pipeline tick.
type Stage string

// The stages the pipeline records.
const (
	StageDetection Stage = "detection"
	StageTracking  Stage = "tracking"
	StagePlate     Stage = "plate_recognition"
	StageTotal     Stage = "total"
)

const metricsWindowSize = 100

// StageStats summarizes one stage's rolling window, in milliseconds.
type StageStats struct {
	Mean float64 `json:"avg"`
	P50  float64 `json:"p50"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
}

// Metrics keeps a fixed-length rolling window of latency samples per stage
// and computes summary statistics on demand.
type Metrics struct {
	mu      sync.Mutex
	windows map[Stage]*sampleWindow
}

// NewMetrics returns empty metrics for the known stages.
func NewMetrics() *Metrics {
	m := &Metrics{windows: map[Stage]*sampleWindow{}}
	for _, stage := range []Stage{StageDetection, StageTracking, StagePlate, StageTotal} {
		m.windows[stage] = newSampleWindow(metricsWindowSize)
	}
	return m
}

// Record adds one duration sample to a stage's window. Unknown stages are
// ignored.
func (m *Metrics) Record(stage Stage, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[stage]; ok {
		w.add(float64(d) / float64(time.Millisecond))
	}
}

// Stats computes mean and percentiles for every stage's current window.
func (m *Metrics) Stats() map[Stage]StageStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Stage]StageStats, len(m.windows))
	for stage, w := range m.windows {
		out[stage] = summarize(w.samples())
	}
	return out
}

func summarize(samples []float64) StageStats {
	if len(samples) == 0 {
		return StageStats{}
	}
	mean, _ := stats.Mean(samples)
	p50, _ := stats.Percentile(samples, 50)
	p95, _ := stats.Percentile(samples, 95)
	p99, _ := stats.Percentile(samples, 99)
	return StageStats{Mean: mean, P50: p50, P95: p95, P99: p99}
}

type sampleWindow struct {
	data []float64
	pos  int
	fill int
}

func newSampleWindow(size int) *sampleWindow {
	return &sampleWindow{data: make([]float64, size)}
}

func (w *sampleWindow) add(x float64) {
	w.data[w.pos] = x
	w.pos++
	if w.pos >= len(w.data) {
		w.pos = 0
	}
	if w.fill < len(w.data) {
		w.fill++
	}
}

func (w *sampleWindow) samples() []float64 {
	out := make([]float64, w.fill)
	copy(out, w.data[:w.fill])
	return out
}
