package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/sparkvision/pipeline/logging"
	"github.com/sparkvision/pipeline/vision/objectdetection"
)

// Warmup runs the detector a few times on a blank frame so lazy model
// initialization happens before real traffic. It returns the mean
// inference time in milliseconds.
func Warmup(ctx context.Context, det objectdetection.Detector, width, height, iterations int, logger logging.Logger) (float64, error) {
	if det == nil {
		return 0, errors.New("cannot warm up a nil detector")
	}
	if iterations < 1 {
		iterations = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	samples := make([]float64, 0, iterations)
	for i := 0; i < iterations; i++ {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		start := time.Now()
		if _, err := det(ctx, img); err != nil {
			return 0, errors.Wrap(err, "warmup inference failed")
		}
		samples = append(samples, float64(time.Since(start))/float64(time.Millisecond))
	}
	mean, err := stats.Mean(samples)
	if err != nil {
		return 0, err
	}
	logger.Infow("detector warmed up", "iterations", iterations, "avg_ms", mean)
	return mean, nil
}
