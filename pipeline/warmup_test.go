package pipeline

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/sparkvision/pipeline/logging"
	"github.com/sparkvision/pipeline/vision/objectdetection"
)

func TestWarmup(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	var calls int
	det := func(ctx context.Context, img image.Image) ([]objectdetection.Detection, error) {
		calls++
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 640)
		return nil, nil
	}

	avg, err := Warmup(ctx, det, 640, 480, 5, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, calls, test.ShouldEqual, 5)
	test.That(t, avg, test.ShouldBeGreaterThanOrEqualTo, 0.0)
}

func TestWarmupErrors(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	_, err := Warmup(ctx, nil, 640, 480, 1, logger)
	test.That(t, err, test.ShouldNotBeNil)

	failing := func(ctx context.Context, img image.Image) ([]objectdetection.Detection, error) {
		return nil, errors.New("model not loaded")
	}
	_, err = Warmup(ctx, failing, 640, 480, 1, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "model not loaded")
}
