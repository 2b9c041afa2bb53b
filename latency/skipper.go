// Package latency holds the closed-loop latency controller: adaptive frame
// skipping, rolling per-stage statistics and a checkpoint profiler.
package latency

import (
	"sync"

	"github.com/sparkvision/pipeline/utils"
)

const (
	// skip-window of latency samples steering the interval
	skipperWindowSize = 10
	// minimum samples before the interval is adjusted at all
	skipperWarmup = 3
	// grow the interval above this multiple of the target
	overloadFactor = 1.2
	// shrink the interval below this multiple of the target
	headroomFactor = 0.5
)

// FrameSkipper adapts the frame-processing interval to the measured
// latency: when the rolling average runs hot it skips more frames, when
// there is headroom it skips fewer. The interval always stays within
// [minInterval, maxInterval]. Updates come from the run loop while status
// reporters read the interval from other goroutines, so the mutable state
// sits behind a mutex.
type FrameSkipper struct {
	targetLatencyMS float64
	minInterval     int
	maxInterval     int

	mu              sync.Mutex
	currentInterval int
	window          *utils.RollingAverage
}

// NewFrameSkipper returns a skipper targeting targetLatencyMS per tick.
func NewFrameSkipper(targetLatencyMS float64, minInterval, maxInterval int) *FrameSkipper {
	if minInterval < 1 {
		minInterval = 1
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	return &FrameSkipper{
		targetLatencyMS: targetLatencyMS,
		minInterval:     minInterval,
		maxInterval:     maxInterval,
		currentInterval: minInterval,
		window:          utils.NewRollingAverage(skipperWindowSize),
	}
}

// Update records one measured tick latency and returns the (possibly
// adjusted) skip interval. Adjustment starts only once enough samples
// exist to trust the average.
func (s *FrameSkipper) Update(latencyMS float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window.Add(latencyMS)
	if s.window.Count() < skipperWarmup {
		return s.currentInterval
	}

	avg := s.window.Average()
	switch {
	case avg > s.targetLatencyMS*overloadFactor:
		if s.currentInterval < s.maxInterval {
			s.currentInterval++
		}
	case avg < s.targetLatencyMS*headroomFactor:
		if s.currentInterval > s.minInterval {
			s.currentInterval--
		}
	}
	return s.currentInterval
}

// ShouldProcess reports whether the given frame number should be processed
// under the current interval.
func (s *FrameSkipper) ShouldProcess(frameNumber int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return frameNumber%int64(s.currentInterval) == 0
}

// CurrentInterval returns the active skip interval.
func (s *FrameSkipper) CurrentInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentInterval
}
