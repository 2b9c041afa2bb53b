package inference

import (
	"context"
	"sync"
	"time"

	goutils "go.viam.com/utils"

	"github.com/sparkvision/pipeline/stream"
	"github.com/sparkvision/pipeline/vision/objectdetection"
)

// InferFunc runs inference over one frame.
type InferFunc func(ctx context.Context, frame stream.Frame) ([]objectdetection.Detection, error)

type asyncJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	dets   []objectdetection.Detection
	err    error
}

// AsyncQueue bounds outstanding concurrent inference work. Submitting
// beyond capacity cancels and evicts the oldest pending entry; the
// submitter never blocks. This is backpressure by eviction, not by
// blocking capture.
type AsyncQueue struct {
	mu        sync.Mutex
	maxSize   int
	infer     InferFunc
	pending   map[int64]*asyncJob
	baseCtx   context.Context
	cancelAll context.CancelFunc
}

// NewAsyncQueue returns a queue allowing at most maxSize in-flight jobs.
func NewAsyncQueue(maxSize int, infer InferFunc) *AsyncQueue {
	if maxSize < 1 {
		maxSize = 1
	}
	baseCtx, cancelAll := context.WithCancel(context.Background())
	return &AsyncQueue{
		maxSize:   maxSize,
		infer:     infer,
		pending:   map[int64]*asyncJob{},
		baseCtx:   baseCtx,
		cancelAll: cancelAll,
	}
}

// Submit starts inference for the frame under the given id. If the queue is
// full, the oldest pending job is cancelled and evicted first.
func (q *AsyncQueue) Submit(id int64, frame stream.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.baseCtx.Err() != nil {
		return
	}
	if len(q.pending) >= q.maxSize {
		q.evictOldestLocked()
	}

	jobCtx, cancel := context.WithCancel(q.baseCtx)
	job := &asyncJob{cancel: cancel, done: make(chan struct{})}
	q.pending[id] = job
	goutils.PanicCapturingGo(func() {
		defer close(job.done)
		defer cancel()
		job.dets, job.err = q.infer(jobCtx, frame)
	})
}

func (q *AsyncQueue) evictOldestLocked() {
	var oldest int64
	first := true
	for id := range q.pending {
		if first || id < oldest {
			oldest = id
			first = false
		}
	}
	if first {
		return
	}
	q.pending[oldest].cancel()
	delete(q.pending, oldest)
}

// GetResult waits up to timeout for the job with the given id. Once the job
// has resolved or failed, the entry is removed and its outcome returned;
// ok is false when the id is unknown or the job is still running after the
// timeout.
func (q *AsyncQueue) GetResult(id int64, timeout time.Duration) (dets []objectdetection.Detection, ok bool, err error) {
	q.mu.Lock()
	job, exists := q.pending[id]
	q.mu.Unlock()
	if !exists {
		return nil, false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-job.done:
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		return job.dets, true, job.err
	case <-timer.C:
		return nil, false, nil
	}
}

// Len returns the number of in-flight jobs.
func (q *AsyncQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown cancels all outstanding work without waiting for completion.
func (q *AsyncQueue) Shutdown() {
	q.cancelAll()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = map[int64]*asyncJob{}
}
