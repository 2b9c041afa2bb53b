// Package inference holds the primitives that decouple capture cadence
// from inference cadence: bounded batch grouping and a bounded async work
// queue with oldest-first eviction.
package inference

import (
	"sync"

	"github.com/sparkvision/pipeline/stream"
)

// BatchProcessor accumulates frames up to a batch size so inference can run
// on groups instead of single frames.
type BatchProcessor struct {
	mu        sync.Mutex
	batchSize int
	pending   []stream.Frame
	ready     chan struct{}
}

// NewBatchProcessor returns a processor grouping frames into batches of
// batchSize.
func NewBatchProcessor(batchSize int) *BatchProcessor {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchProcessor{
		batchSize: batchSize,
		ready:     make(chan struct{}, 1),
	}
}

// AddFrame appends one frame and reports whether a full batch is now
// available. Reaching the threshold also signals Ready.
func (b *BatchProcessor) AddFrame(f stream.Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, f)
	if len(b.pending) < b.batchSize {
		return false
	}
	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready signals once per batch-size threshold crossing.
func (b *BatchProcessor) Ready() <-chan struct{} {
	return b.ready
}

// GetBatch atomically pops up to batchSize pending frames.
func (b *BatchProcessor) GetBatch() []stream.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.batchSize
	if n > len(b.pending) {
		n = len(b.pending)
	}
	batch := make([]stream.Frame, n)
	copy(batch, b.pending[:n])
	b.pending = b.pending[n:]
	return batch
}

// Len returns the number of pending frames.
func (b *BatchProcessor) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Clear discards all pending frames.
func (b *BatchProcessor) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
}
