package objectdetection

import (
	"context"
	"image"

	"github.com/pkg/errors"
)

// Preprocessor is any function that transforms the input image before
// detection happens.
type Preprocessor func(image.Image) image.Image

// Detector returns a slice of object detections from an input image. This is
// the capability boundary to the external detection model.
type Detector func(context.Context, image.Image) ([]Detection, error)

// Build creates a detector from its basic components: an optional
// preprocessor, the detector itself, and an optional postprocessor.
func Build(prep Preprocessor, det Detector, post Postprocessor) (Detector, error) {
	if det == nil {
		return nil, errors.New("must have a Detector to build a detection pipeline")
	}
	if prep == nil {
		prep = func(img image.Image) image.Image { return img }
	}
	if post == nil {
		post = func(inp []Detection) []Detection { return inp }
	}
	return func(ctx context.Context, img image.Image) ([]Detection, error) {
		preprocessed := prep(img)
		detections, err := det(ctx, preprocessed)
		if err != nil {
			return nil, err
		}
		return post(detections), nil
	}, nil
}
