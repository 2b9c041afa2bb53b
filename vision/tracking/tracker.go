// Package tracking assigns stable identities to detections across frames.
package tracking

import (
	"image"
	"sort"

	"github.com/sparkvision/pipeline/vision/objectdetection"
)

// TrackedDetection is a detection annotated with the id of the track it was
// bound to.
type TrackedDetection struct {
	objectdetection.Detection
	TrackID int64
}

type track struct {
	bbox image.Rectangle
	hits int
	age  int
}

// Tracker matches detections to existing tracks greedily by IoU. The policy
// is deliberately per-detection-first-match in input order rather than a
// globally optimal assignment; among equal-IoU candidates the lowest track
// id wins, which keeps the matching deterministic.
type Tracker struct {
	iouThreshold float64
	maxAge       int
	tracks       map[int64]*track
	nextID       int64
}

// NewTracker returns a tracker that binds a detection to a track when their
// IoU is at least iouThreshold and evicts tracks unmatched for maxAge
// consecutive updates.
func NewTracker(iouThreshold float64, maxAge int) *Tracker {
	return &Tracker{
		iouThreshold: iouThreshold,
		maxAge:       maxAge,
		tracks:       map[int64]*track{},
		nextID:       1,
	}
}

// Update matches detections against the known tracks and returns them
// annotated with track ids. Unmatched detections spawn new tracks; track ids
// are monotonically increasing and never reused while the tracker lives.
func (t *Tracker) Update(dets []objectdetection.Detection) []TrackedDetection {
	out := make([]TrackedDetection, 0, len(dets))
	unmatched := make(map[int64]bool, len(t.tracks))
	for id := range t.tracks {
		unmatched[id] = true
	}

	for _, det := range dets {
		bestID := t.bestMatch(det.BoundingBox(), unmatched)
		if bestID != 0 {
			tr := t.tracks[bestID]
			tr.bbox = *det.BoundingBox()
			tr.hits++
			tr.age = 0
			delete(unmatched, bestID)
			out = append(out, TrackedDetection{det, bestID})
			continue
		}
		id := t.nextID
		t.nextID++
		t.tracks[id] = &track{bbox: *det.BoundingBox(), hits: 1}
		out = append(out, TrackedDetection{det, id})
	}

	for id := range unmatched {
		tr := t.tracks[id]
		tr.age++
		if tr.age >= t.maxAge {
			delete(t.tracks, id)
		}
	}
	return out
}

// bestMatch returns the id of the unmatched track with maximum IoU against
// bbox, provided that IoU clears the threshold, or 0 otherwise. Candidate
// tracks are scanned in ascending id order so equal IoUs resolve to the
// oldest track.
func (t *Tracker) bestMatch(bbox *image.Rectangle, unmatched map[int64]bool) int64 {
	ids := make([]int64, 0, len(unmatched))
	for id := range unmatched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var bestID int64
	bestIOU := 0.0
	for _, id := range ids {
		iou := objectdetection.IOU(*bbox, t.tracks[id].bbox)
		if iou > bestIOU {
			bestIOU = iou
			bestID = id
		}
	}
	if bestIOU < t.iouThreshold {
		return 0
	}
	return bestID
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}
