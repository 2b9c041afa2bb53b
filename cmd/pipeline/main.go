// Package main runs the parking perception pipeline.
package main

import (
	"context"
	"image"
	"math/rand"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"

	"github.com/sparkvision/pipeline/logging"
	"github.com/sparkvision/pipeline/pipeline"
	"github.com/sparkvision/pipeline/slots"
	"github.com/sparkvision/pipeline/stream"
	"github.com/sparkvision/pipeline/vision/objectdetection"
)

var logger = logging.NewLogger("pipeline")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigPath string `flag:"config,usage=path to JSON config file"`
	Fake       bool   `flag:"fake,usage=run synthetic cameras and a synthetic detector"`
	Debug      bool   `flag:"debug,usage=verbose logging"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = logging.NewDebugLogger("pipeline")
	}

	cfg, err := pipeline.Load(argsParsed.ConfigPath)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		SlotProvider: slots.NewHTTPProvider(cfg.APIEndpoint, 10*time.Second),
	}
	if argsParsed.Fake {
		opts.Detector = fakeDetector()
		opts.Dial = func(pipeline.CameraConfig) stream.Dialer {
			return stream.DialFake(1280, 720, cfg.CaptureFPS, clock.New())
		}
		if len(cfg.Cameras) == 0 {
			cfg.Cameras = []pipeline.CameraConfig{
				{ID: "fake_0", RTSPURL: "rtsp://fake/0", ParkingLotID: "lot_demo", ZoneID: "zone_a", Enabled: true},
				{ID: "fake_1", RTSPURL: "rtsp://fake/1", ParkingLotID: "lot_demo", ZoneID: "zone_a", Enabled: true},
			}
		}
	}

	if opts.Detector != nil {
		if _, err := pipeline.Warmup(ctx, opts.Detector, 1280, 720, 3, logger); err != nil {
			logger.Warnw("detector warmup failed", "error", err)
		}
	}

	p, err := pipeline.New(cfg, opts, logger)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	if cfg.MetricsAddress != "" {
		server := &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           p.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		goutils.PanicCapturingGo(func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("metrics server failed", "error", err)
			}
		})
		defer func() {
			goutils.UncheckedError(server.Close())
		}()
		logger.Infow("metrics listening", "address", cfg.MetricsAddress)
	}

	// Log a status snapshot periodically until shutdown.
	for goutils.SelectContextOrWait(ctx, 30*time.Second) {
		status := p.Status()
		logger.Infow("pipeline status",
			"cameras", status.Cameras,
			"latency", status.Latency,
			"skip_interval", status.SkipInterval,
			"queued_events", status.QueuedEvents,
		)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.Stop(stopCtx)
}

// fakeDetector emits boxes roughly on the synthetic lot's slot grid so the
// occupancy logic has something to chew on without a real model.
func fakeDetector() objectdetection.Detector {
	return func(ctx context.Context, img image.Image) ([]objectdetection.Detection, error) {
		var dets []objectdetection.Detection
		for i := 0; i < 8; i++ {
			if rand.Float64() < 0.4 {
				continue
			}
			x := 100 + i*140
			box := image.Rect(x+5, 110, x+115, 290)
			dets = append(dets, objectdetection.NewDetection(box, 0.6+rand.Float64()*0.4, "car"))
		}
		return dets, nil
	}
}
