// Package classification defines the vehicle-attribute classifier boundary.
package classification

import (
	"context"
	"image"

	"github.com/sparkvision/pipeline/vision/objectdetection"
)

// Attributes are the classified attributes of a single detected vehicle.
// Extra carries forward-compatible fields a model may report beyond the
// named ones.
type Attributes struct {
	Color           string             `json:"color,omitempty"`
	ColorConfidence float64            `json:"colorConfidence,omitempty"`
	Type            string             `json:"type,omitempty"`
	TypeConfidence  float64            `json:"typeConfidence,omitempty"`
	Extra           map[string]float64 `json:"extra,omitempty"`
}

// Classifier classifies the attributes of each detection found in img. The
// returned slice is aligned with the input detections; a nil entry means
// classification was skipped for that detection (e.g. a degenerate crop).
// This is the capability boundary to the external attributes model.
type Classifier func(ctx context.Context, img image.Image, dets []objectdetection.Detection) ([]*Attributes, error)
