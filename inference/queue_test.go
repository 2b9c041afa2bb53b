package inference

import (
	"context"
	"image"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/sparkvision/pipeline/stream"
	"github.com/sparkvision/pipeline/vision/objectdetection"
)

func instantInfer(ctx context.Context, f stream.Frame) ([]objectdetection.Detection, error) {
	det := objectdetection.NewDetection(image.Rect(0, 0, 10, 10), 0.9, "car")
	return []objectdetection.Detection{det}, nil
}

func blockingInfer(release chan struct{}) InferFunc {
	return func(ctx context.Context, f stream.Frame) ([]objectdetection.Detection, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestQueueResult(t *testing.T) {
	q := NewAsyncQueue(4, instantInfer)
	defer q.Shutdown()

	q.Submit(1, frame(1))
	dets, ok, err := q.GetResult(1, time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, dets, test.ShouldHaveLength, 1)

	// the entry is consumed
	_, ok, _ = q.GetResult(1, time.Millisecond)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestQueueEvictsOldest(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	q := NewAsyncQueue(2, blockingInfer(release))
	defer q.Shutdown()

	q.Submit(1, frame(1))
	q.Submit(2, frame(2))
	test.That(t, q.Len(), test.ShouldEqual, 2)

	// a third submit evicts job 1, never blocks
	q.Submit(3, frame(3))
	test.That(t, q.Len(), test.ShouldEqual, 2)
	_, ok, _ := q.GetResult(1, time.Millisecond)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestQueueEvictedJobSeesCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	q := NewAsyncQueue(1, blockingInfer(release))
	defer q.Shutdown()

	q.Submit(1, frame(1))
	q.Submit(2, frame(2))

	// job 2 is still pending; its timeout path leaves it queued
	_, ok, _ := q.GetResult(2, 10*time.Millisecond)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, q.Len(), test.ShouldEqual, 1)
}

func TestQueueShutdown(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	q := NewAsyncQueue(4, blockingInfer(release))
	q.Submit(1, frame(1))
	q.Shutdown()
	test.That(t, q.Len(), test.ShouldEqual, 0)

	// submits after shutdown are dropped
	q.Submit(2, frame(2))
	test.That(t, q.Len(), test.ShouldEqual, 0)
}
