package stream

import (
	"context"
	"sync"
	"time"
)

// FrameBuffer is a bounded frame queue with a drop-oldest overflow policy.
// The producer never blocks: pushing into a full buffer evicts the oldest
// frame.
type FrameBuffer struct {
	mu sync.Mutex
	ch chan Frame
}

// NewFrameBuffer returns a buffer holding at most capacity frames.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{ch: make(chan Frame, capacity)}
}

// Push inserts a frame, evicting the oldest buffered frame when full.
func (b *FrameBuffer) Push(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case b.ch <- f:
		return
	default:
	}
	select {
	case <-b.ch:
	default:
	}
	select {
	case b.ch <- f:
	default:
	}
}

// Latest drains the buffer and returns the most recent frame, discarding
// everything older, or false if the buffer is empty. Never blocks.
func (b *FrameBuffer) Latest() (Frame, bool) {
	var latest Frame
	ok := false
	for {
		select {
		case f := <-b.ch:
			latest, ok = f, true
		default:
			return latest, ok
		}
	}
}

// Next returns the oldest buffered frame, waiting up to timeout for one to
// arrive. It returns false on timeout or context cancellation.
func (b *FrameBuffer) Next(ctx context.Context, timeout time.Duration) (Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-b.ch:
		return f, true
	case <-timer.C:
		return Frame{}, false
	case <-ctx.Done():
		return Frame{}, false
	}
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	return len(b.ch)
}
