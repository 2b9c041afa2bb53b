package tracking

import (
	"image"
	"testing"

	"go.viam.com/test"

	"github.com/sparkvision/pipeline/vision/objectdetection"
)

func det(x0, y0, x1, y1 int) objectdetection.Detection {
	return objectdetection.NewDetection(image.Rect(x0, y0, x1, y1), 0.9, "car")
}

func TestTrackerAssignsStableIDs(t *testing.T) {
	tr := NewTracker(0.3, 3)

	out := tr.Update([]objectdetection.Detection{det(0, 0, 100, 100), det(500, 0, 600, 100)})
	test.That(t, out, test.ShouldHaveLength, 2)
	test.That(t, out[0].TrackID, test.ShouldEqual, 1)
	test.That(t, out[1].TrackID, test.ShouldEqual, 2)

	// boxes moved slightly, ids must stick
	out = tr.Update([]objectdetection.Detection{det(5, 0, 105, 100), det(505, 0, 605, 100)})
	test.That(t, out[0].TrackID, test.ShouldEqual, 1)
	test.That(t, out[1].TrackID, test.ShouldEqual, 2)
	test.That(t, tr.Len(), test.ShouldEqual, 2)
}

func TestTrackerSpawnsNewID(t *testing.T) {
	tr := NewTracker(0.3, 3)
	tr.Update([]objectdetection.Detection{det(0, 0, 100, 100)})

	// far-away detection does not steal the existing track
	out := tr.Update([]objectdetection.Detection{det(0, 0, 100, 100), det(900, 900, 1000, 1000)})
	test.That(t, out[0].TrackID, test.ShouldEqual, 1)
	test.That(t, out[1].TrackID, test.ShouldEqual, 2)
}

func TestTrackerEvictionAndNoIDReuse(t *testing.T) {
	tr := NewTracker(0.3, 2)
	tr.Update([]objectdetection.Detection{det(0, 0, 100, 100)})

	// two empty updates age the track out
	tr.Update(nil)
	tr.Update(nil)
	test.That(t, tr.Len(), test.ShouldEqual, 0)

	// the same box comes back with a fresh id, never id 1 again
	out := tr.Update([]objectdetection.Detection{det(0, 0, 100, 100)})
	test.That(t, out[0].TrackID, test.ShouldEqual, 2)
}

func TestTrackerMatchResetsAge(t *testing.T) {
	tr := NewTracker(0.3, 2)
	tr.Update([]objectdetection.Detection{det(0, 0, 100, 100)})
	tr.Update(nil)
	// reappearing before maxAge keeps the track alive
	out := tr.Update([]objectdetection.Detection{det(0, 0, 100, 100)})
	test.That(t, out[0].TrackID, test.ShouldEqual, 1)
	tr.Update(nil)
	test.That(t, tr.Len(), test.ShouldEqual, 1)
}

func TestTrackerTieBreakLowestID(t *testing.T) {
	tr := NewTracker(0.3, 5)
	// two identical tracks so any detection ties between them
	tr.Update([]objectdetection.Detection{det(0, 0, 100, 100)})
	out := tr.Update([]objectdetection.Detection{det(0, 0, 100, 100), det(0, 0, 100, 100)})
	test.That(t, out[0].TrackID, test.ShouldEqual, 1)
	test.That(t, out[1].TrackID, test.ShouldEqual, 2)

	out = tr.Update([]objectdetection.Detection{det(0, 0, 100, 100)})
	test.That(t, out[0].TrackID, test.ShouldEqual, 1)
}

func TestTrackerBelowThresholdSpawns(t *testing.T) {
	tr := NewTracker(0.9, 5)
	tr.Update([]objectdetection.Detection{det(0, 0, 100, 100)})
	// 50% overlap is below the 0.9 threshold
	out := tr.Update([]objectdetection.Detection{det(50, 0, 150, 100)})
	test.That(t, out[0].TrackID, test.ShouldEqual, 2)
}
