package pipeline

import (
	"context"
	"image"

	"github.com/sparkvision/pipeline/logging"
	"github.com/sparkvision/pipeline/vision/objectdetection"
)

// vehicleClasses maps COCO class ids to the labels the pipeline cares
// about. Anything else the detector reports is dropped.
var vehicleClasses = map[int]string{
	2: "car",
	3: "motorcycle",
	5: "bus",
	7: "truck",
}

// ClassID returns the COCO class id for a vehicle label, or -1 when the
// label is not a vehicle class.
func ClassID(label string) int {
	for id, name := range vehicleClasses {
		if name == label {
			return id
		}
	}
	return -1
}

// DetectionStage wraps a Detector with the score and vehicle-class
// filtering every frame goes through. A nil detector is tolerated so the
// rest of the pipeline keeps running while a model is unavailable.
type DetectionStage struct {
	detect objectdetection.Detector
	logger logging.Logger
	warned bool
}

// NewDetectionStage builds the filtering pipeline around det.
func NewDetectionStage(det objectdetection.Detector, confidence float64, logger logging.Logger) (*DetectionStage, error) {
	if det == nil {
		return &DetectionStage{logger: logger}, nil
	}
	allowed := make(map[string]struct{}, len(vehicleClasses))
	for _, name := range vehicleClasses {
		allowed[name] = struct{}{}
	}
	score := objectdetection.NewScoreFilter(confidence)
	labels := objectdetection.NewLabelFilter(allowed)
	filtered, err := objectdetection.Build(nil, det, func(in []objectdetection.Detection) []objectdetection.Detection {
		return labels(score(in))
	})
	if err != nil {
		return nil, err
	}
	return &DetectionStage{detect: filtered, logger: logger}, nil
}

// Detect runs the detector on img. Detector failures degrade to an empty
// result so a bad frame never stalls the loop.
func (s *DetectionStage) Detect(ctx context.Context, img image.Image) []objectdetection.Detection {
	if s.detect == nil {
		if !s.warned {
			s.logger.Warn("no detector configured, producing empty detections")
			s.warned = true
		}
		return nil
	}
	dets, err := s.detect(ctx, img)
	if err != nil {
		s.logger.Warnw("detection failed", "error", err)
		return nil
	}
	return dets
}
