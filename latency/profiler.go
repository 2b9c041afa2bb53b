package latency

import (
	"strings"
	"time"

	"github.com/sparkvision/pipeline/logging"
)

// Checkpoint is one named elapsed-time mark, cumulative since Start.
type Checkpoint struct {
	Name      string
	ElapsedMS float64
}

// Profiler records named checkpoints within one pipeline tick so the stage
// breakdown can be logged. Diagnostic only; it feeds nothing back into
// scheduling.
type Profiler struct {
	startedAt   time.Time
	checkpoints []Checkpoint
}

// NewProfiler returns an unstarted profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// Start resets the profiler clock and clears prior checkpoints.
func (p *Profiler) Start() {
	p.startedAt = time.Now()
	p.checkpoints = p.checkpoints[:0]
}

// Checkpoint records the elapsed time since Start under the given name.
func (p *Profiler) Checkpoint(name string) {
	if p.startedAt.IsZero() {
		return
	}
	elapsed := float64(time.Since(p.startedAt)) / float64(time.Millisecond)
	p.checkpoints = append(p.checkpoints, Checkpoint{Name: name, ElapsedMS: elapsed})
}

// Breakdown returns per-section durations: the successive differences
// between checkpoints in recording order.
func (p *Profiler) Breakdown() []Checkpoint {
	out := make([]Checkpoint, 0, len(p.checkpoints))
	last := 0.0
	for _, cp := range p.checkpoints {
		out = append(out, Checkpoint{Name: cp.Name, ElapsedMS: cp.ElapsedMS - last})
		last = cp.ElapsedMS
	}
	return out
}

// LogBreakdown writes the per-section timing at debug level.
func (p *Profiler) LogBreakdown(logger logging.Logger) {
	breakdown := p.Breakdown()
	if len(breakdown) == 0 {
		return
	}
	var sb strings.Builder
	total := 0.0
	for i, cp := range breakdown {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(cp.Name)
		sb.WriteString(": ")
		sb.WriteString(formatMS(cp.ElapsedMS))
		total += cp.ElapsedMS
	}
	logger.Debugw("tick timing", "breakdown", sb.String(), "total_ms", total)
}

func formatMS(ms float64) string {
	return time.Duration(ms * float64(time.Millisecond)).Round(100 * time.Microsecond).String()
}
