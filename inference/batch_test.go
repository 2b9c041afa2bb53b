package inference

import (
	"testing"

	"go.viam.com/test"

	"github.com/sparkvision/pipeline/stream"
)

func frame(n int64) stream.Frame {
	return stream.Frame{CameraID: "cam", Number: n}
}

func TestBatchThreshold(t *testing.T) {
	b := NewBatchProcessor(3)

	test.That(t, b.AddFrame(frame(1)), test.ShouldBeFalse)
	test.That(t, b.AddFrame(frame(2)), test.ShouldBeFalse)
	select {
	case <-b.Ready():
		t.Fatal("ready fired before the batch filled")
	default:
	}

	test.That(t, b.AddFrame(frame(3)), test.ShouldBeTrue)
	select {
	case <-b.Ready():
	default:
		t.Fatal("ready did not fire at batch size")
	}

	batch := b.GetBatch()
	test.That(t, batch, test.ShouldHaveLength, 3)
	test.That(t, batch[0].Number, test.ShouldEqual, 1)
	test.That(t, batch[2].Number, test.ShouldEqual, 3)
	test.That(t, b.Len(), test.ShouldEqual, 0)
}

func TestBatchPartialPop(t *testing.T) {
	b := NewBatchProcessor(5)
	b.AddFrame(frame(1))
	b.AddFrame(frame(2))

	// a partial batch can still be drained on demand
	batch := b.GetBatch()
	test.That(t, batch, test.ShouldHaveLength, 2)
	test.That(t, b.GetBatch(), test.ShouldBeEmpty)
}

func TestBatchLeftoverStays(t *testing.T) {
	b := NewBatchProcessor(2)
	for i := int64(1); i <= 5; i++ {
		b.AddFrame(frame(i))
	}
	test.That(t, b.GetBatch(), test.ShouldHaveLength, 2)
	test.That(t, b.GetBatch(), test.ShouldHaveLength, 2)
	test.That(t, b.Len(), test.ShouldEqual, 1)

	b.Clear()
	test.That(t, b.Len(), test.ShouldEqual, 0)
}
