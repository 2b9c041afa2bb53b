// Package utils contains small shared helpers used across the pipeline.
package utils

// RollingAverage averages the last NumSamples values added to it. Until the
// window has filled once, only the values added so far contribute.
type RollingAverage struct {
	data []float64
	pos  int
	fill int
}

// NewRollingAverage returns a RollingAverage over the given window size.
func NewRollingAverage(numSamples int) *RollingAverage {
	return &RollingAverage{data: make([]float64, numSamples)}
}

// NumSamples returns the window size.
func (ra *RollingAverage) NumSamples() int {
	return len(ra.data)
}

// Count returns how many samples currently contribute to the average,
// at most NumSamples.
func (ra *RollingAverage) Count() int {
	return ra.fill
}

// Add records one sample, evicting the oldest once the window is full.
func (ra *RollingAverage) Add(x float64) {
	ra.data[ra.pos] = x
	ra.pos++
	if ra.pos >= len(ra.data) {
		ra.pos = 0
	}
	if ra.fill < len(ra.data) {
		ra.fill++
	}
}

// Average returns the mean of the recorded samples, or 0 with no samples.
func (ra *RollingAverage) Average() float64 {
	if ra.fill == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range ra.data[:ra.fill] {
		sum += d
	}
	return sum / float64(ra.fill)
}
