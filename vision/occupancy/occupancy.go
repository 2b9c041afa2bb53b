// Package occupancy maps vehicle detections onto configured parking-slot
// regions and debounces the per-slot occupancy state.
package occupancy

import (
	"image"

	"github.com/sparkvision/pipeline/vision/objectdetection"
)

// SlotRegion is one configured parking space, in pixel coordinates of its
// camera's frame.
type SlotRegion struct {
	ID     string
	Bounds image.Rectangle
}

// SlotUpdate reports one occupancy transition. Steady state produces no
// updates.
type SlotUpdate struct {
	SlotID      string  `json:"slotId"`
	IsOccupied  bool    `json:"isOccupied"`
	Confidence  float64 `json:"confidence"`
	VehicleType string  `json:"vehicleType,omitempty"`
}

type slotState struct {
	occupied   bool
	counter    int
	confidence float64
}

// Engine holds the debounced occupancy state of every slot it has seen.
// A slot flips to occupied only after confirmationFrames consecutive
// occupied signals and back only after hysteresisFrames consecutive empty
// ones; any signal that breaks a streak resets that slot's counter to zero.
type Engine struct {
	iouThreshold       float64
	confirmationFrames int
	hysteresisFrames   int
	states             map[string]*slotState
}

// NewEngine returns an occupancy engine. A slot counts as occupied on a
// frame when some detection overlaps it with IoU of at least iouThreshold.
func NewEngine(iouThreshold float64, confirmationFrames, hysteresisFrames int) *Engine {
	return &Engine{
		iouThreshold:       iouThreshold,
		confirmationFrames: confirmationFrames,
		hysteresisFrames:   hysteresisFrames,
		states:             map[string]*slotState{},
	}
}

// Update advances every slot's state machine against this frame's
// detections and returns only the transitions that were confirmed.
func (e *Engine) Update(dets []objectdetection.Detection, slots []SlotRegion) []SlotUpdate {
	var updates []SlotUpdate
	for _, slot := range slots {
		signal, best := e.match(dets, slot)
		state := e.states[slot.ID]
		if state == nil {
			state = &slotState{}
			e.states[slot.ID] = state
		}

		switch {
		case signal && !state.occupied:
			state.counter++
			state.confidence = bestConfidence(best)
			if state.counter >= e.confirmationFrames {
				state.occupied = true
				state.counter = 0
				updates = append(updates, SlotUpdate{
					SlotID:      slot.ID,
					IsOccupied:  true,
					Confidence:  bestConfidence(best),
					VehicleType: bestLabel(best),
				})
			}
		case signal && state.occupied:
			// stays confirmed, refresh confidence only
			state.counter = 0
			state.confidence = bestConfidence(best)
		case !signal && state.occupied:
			state.counter++
			if state.counter >= e.hysteresisFrames {
				state.occupied = false
				state.counter = 0
				state.confidence = 0
				updates = append(updates, SlotUpdate{SlotID: slot.ID, IsOccupied: false})
			}
		default:
			state.counter = 0
		}
	}
	return updates
}

// match reports whether any detection overlaps the slot at the IoU
// threshold and returns the highest-confidence overlapping detection for
// attribute reporting.
func (e *Engine) match(dets []objectdetection.Detection, slot SlotRegion) (bool, objectdetection.Detection) {
	occupied := false
	var best objectdetection.Detection
	for _, det := range dets {
		if objectdetection.IOU(slot.Bounds, *det.BoundingBox()) < e.iouThreshold {
			continue
		}
		occupied = true
		if best == nil || det.Score() > best.Score() {
			best = det
		}
	}
	return occupied, best
}

// Occupied reports the debounced state of a slot id.
func (e *Engine) Occupied(slotID string) bool {
	if state, ok := e.states[slotID]; ok {
		return state.occupied
	}
	return false
}

func bestConfidence(d objectdetection.Detection) float64 {
	if d == nil {
		return 0
	}
	return d.Score()
}

func bestLabel(d objectdetection.Detection) string {
	if d == nil {
		return ""
	}
	return d.Label()
}
