package pipeline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sparkvision/pipeline/latency"
	"github.com/sparkvision/pipeline/logging"
	"github.com/sparkvision/pipeline/publisher"
	"github.com/sparkvision/pipeline/slots"
	"github.com/sparkvision/pipeline/stream"
	"github.com/sparkvision/pipeline/utils"
	"github.com/sparkvision/pipeline/vision/anpr"
	"github.com/sparkvision/pipeline/vision/classification"
	"github.com/sparkvision/pipeline/vision/objectdetection"
	"github.com/sparkvision/pipeline/vision/occupancy"
	"github.com/sparkvision/pipeline/vision/tracking"
)

// tickYield is how long the loop parks between full camera passes so it
// never spins when every buffer is empty.
const tickYield = 10 * time.Millisecond

// Options carries the pluggable model and IO stages. Every field is
// optional; the pipeline degrades rather than refuse to start.
type Options struct {
	Detector     objectdetection.Detector
	Classifier   classification.Classifier
	Recognizer   anpr.Recognizer
	SlotProvider slots.Provider
	// Dial opens the stream for one camera. When unset, each camera's
	// configured RTSP url is dialed.
	Dial   func(cam CameraConfig) stream.Dialer
	FanOut publisher.FanOut
}

// Pipeline owns the whole perception loop across all configured cameras.
type Pipeline struct {
	cfg    Config
	opts   Options
	logger logging.Logger

	registry *stream.Registry
	stage    *DetectionStage
	pub      *publisher.Publisher

	skipper  *latency.FrameSkipper
	latency  *latency.Metrics
	profiler *latency.Profiler
	metrics  *Metrics

	// trackers and engine are only touched from the run loop.
	trackers map[string]*tracking.Tracker
	engine   *occupancy.Engine
	cameras  map[string]CameraConfig

	slotMu      sync.RWMutex
	slotRegions map[string][]occupancy.SlotRegion

	workers *utils.StoppableWorkers
	started bool
}

// New assembles a pipeline from config and options.
func New(cfg Config, opts Options, logger logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stage, err := NewDetectionStage(opts.Detector, cfg.ConfidenceThreshold, logger)
	if err != nil {
		return nil, err
	}

	fanOut := opts.FanOut
	if fanOut == nil && cfg.MQTT.Enabled {
		fanOut, err = publisher.NewMQTTFanOut(publisher.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			return nil, errors.Wrap(err, "connecting mqtt fan-out")
		}
	}
	pubOpts := []publisher.Option{}
	if fanOut != nil {
		pubOpts = append(pubOpts, publisher.WithFanOut(fanOut))
	}
	pub := publisher.New(publisher.Config{
		Endpoint:      cfg.APIEndpoint,
		BatchSize:     cfg.APIBatchSize,
		FlushInterval: cfg.FlushInterval(),
	}, logger, pubOpts...)

	cameras := make(map[string]CameraConfig, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		cameras[cam.ID] = cam
	}

	return &Pipeline{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		registry:    stream.NewRegistry(logger),
		stage:       stage,
		pub:         pub,
		skipper:     latency.NewFrameSkipper(cfg.TargetLatencyMS, cfg.MinSkipInterval, cfg.MaxSkipInterval),
		latency:     latency.NewMetrics(),
		profiler:    latency.NewProfiler(),
		metrics:     NewMetrics(),
		trackers:    map[string]*tracking.Tracker{},
		engine:      occupancy.NewEngine(cfg.IOUThreshold, cfg.ConfirmationFrames, cfg.HysteresisFrames),
		cameras:     cameras,
		slotRegions: map[string][]occupancy.SlotRegion{},
	}, nil
}

// Start connects the cameras and launches the run loop. A camera that
// cannot connect keeps retrying in the background rather than failing
// startup.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.started {
		return errors.New("pipeline already started")
	}
	p.started = true

	p.pub.Start()
	p.RefreshSlotRegions(ctx)

	for _, cam := range p.cfg.Cameras {
		if !cam.Enabled {
			p.logger.Infow("camera disabled, skipping", "camera", cam.ID)
			continue
		}
		dial, err := p.dialerFor(cam)
		if err != nil {
			return err
		}
		fps := cam.TargetFPS
		if fps <= 0 {
			fps = p.cfg.CaptureFPS
		}
		_, err = p.registry.Add(stream.Config{
			CameraID:       cam.ID,
			BufferSize:     p.cfg.FrameBufferSize,
			ReconnectDelay: p.cfg.ReconnectDelay(),
			TargetFPS:      fps,
		}, dial)
		if err != nil {
			return errors.Wrapf(err, "adding camera %q", cam.ID)
		}
	}
	p.registry.StartAll()
	p.workers = utils.NewStoppableWorkers(p.runLoop)
	p.logger.Infow("pipeline started",
		"cameras", len(p.registry.Sources()),
		"target_latency_ms", p.cfg.TargetLatencyMS,
	)
	return nil
}

// Stop tears the loop down in reverse order and flushes whatever the
// publisher still holds.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.started {
		return nil
	}
	p.started = false
	if p.workers != nil {
		p.workers.Stop()
	}
	p.registry.StopAll()
	err := p.pub.Stop(ctx)
	p.logger.Info("pipeline stopped")
	return err
}

// RefreshSlotRegions re-fetches the slot layout for every camera. A
// failed fetch keeps the previous layout for that camera; a camera that
// never loaded runs with no slots and only emits detections.
func (p *Pipeline) RefreshSlotRegions(ctx context.Context) {
	if p.opts.SlotProvider == nil {
		return
	}
	for _, cam := range p.cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		regions, err := p.opts.SlotProvider.SlotRegions(ctx, cam.ParkingLotID, cam.ZoneID)
		if err != nil {
			p.logger.Warnw("slot config fetch failed, camera runs without slots",
				"camera", cam.ID, "error", err)
			continue
		}
		p.slotMu.Lock()
		p.slotRegions[cam.ID] = regions
		p.slotMu.Unlock()
		p.logger.Infow("slot regions loaded", "camera", cam.ID, "slots", len(regions))
	}
}

// dialerFor picks the stream dialer for one camera: an injected dialer
// wins, otherwise the configured RTSP url is dialed for real.
func (p *Pipeline) dialerFor(cam CameraConfig) (stream.Dialer, error) {
	if p.opts.Dial != nil {
		return p.opts.Dial(cam), nil
	}
	if cam.RTSPURL != "" {
		return stream.DialRTSP(cam.RTSPURL), nil
	}
	return nil, errors.Errorf("camera %q has no stream url and no dialer", cam.ID)
}

func (p *Pipeline) runLoop(ctx context.Context) {
	for goutils.SelectContextOrWait(ctx, tickYield) {
		for _, src := range p.registry.Sources() {
			if ctx.Err() != nil {
				return
			}
			frame, ok := src.Latest()
			if !ok {
				continue
			}
			if !p.skipper.ShouldProcess(frame.Number) {
				p.metrics.FramesSkipped.Inc()
				continue
			}
			p.processFrame(ctx, frame)
		}
	}
}

// processFrame is one tick: detect, classify, track, resolve occupancy,
// read plates and publish. Stage failures degrade; the tick always runs
// to completion.
func (p *Pipeline) processFrame(ctx context.Context, frame stream.Frame) {
	start := time.Now()
	p.profiler.Start()

	dets := p.stage.Detect(ctx, frame.Image)
	detDone := time.Now()
	p.latency.Record(latency.StageDetection, detDone.Sub(start))
	p.profiler.Checkpoint("detection")

	var attrs []*classification.Attributes
	if p.opts.Classifier != nil && len(dets) > 0 {
		var err error
		attrs, err = p.opts.Classifier(ctx, frame.Image, dets)
		if err != nil {
			p.logger.Warnw("attribute classification failed", "camera", frame.CameraID, "error", err)
			attrs = nil
		}
		p.profiler.Checkpoint("classification")
	}

	tracked := p.trackerFor(frame.CameraID).Update(dets)
	p.latency.Record(latency.StageTracking, time.Since(detDone))
	p.profiler.Checkpoint("tracking")

	updates := p.engine.Update(dets, p.regionsFor(frame.CameraID))

	plateText := p.readPlates(ctx, frame, tracked)

	event := p.buildEvent(frame, tracked, attrs, updates)
	p.pub.Publish(event)
	p.metrics.EventsBuilt.Inc()

	for _, u := range updates {
		p.metrics.SlotTransitions.Inc()
		p.pub.PublishSlotUpdate(ctx, &publisher.SlotUpdateEvent{
			CameraID:     frame.CameraID,
			ParkingLotID: p.cameras[frame.CameraID].ParkingLotID,
			SlotID:       u.SlotID,
			IsOccupied:   u.IsOccupied,
			Confidence:   u.Confidence,
			VehicleType:  u.VehicleType,
			LicensePlate: plateText,
			Timestamp:    frame.CapturedAt,
		})
	}

	total := time.Since(start)
	p.latency.Record(latency.StageTotal, total)
	p.metrics.FramesProcessed.Inc()

	totalMS := float64(total) / float64(time.Millisecond)
	p.skipper.Update(totalMS)
	if totalMS > p.cfg.TargetLatencyMS {
		p.metrics.TicksOverBudget.Inc()
		p.logger.Warnw("tick exceeded latency target",
			"camera", frame.CameraID,
			"total_ms", totalMS,
			"target_ms", p.cfg.TargetLatencyMS,
			"skip_interval", p.skipper.CurrentInterval(),
		)
		p.profiler.LogBreakdown(p.logger)
	}
}

// readPlates runs plate recognition over at most PlateLimit detections
// and returns the first plate found.
func (p *Pipeline) readPlates(ctx context.Context, frame stream.Frame, tracked []tracking.TrackedDetection) string {
	if p.opts.Recognizer == nil || len(tracked) == 0 || p.cfg.PlateLimit == 0 {
		return ""
	}
	start := time.Now()
	defer func() {
		p.latency.Record(latency.StagePlate, time.Since(start))
		p.profiler.Checkpoint("plate_recognition")
	}()

	limit := p.cfg.PlateLimit
	if limit > len(tracked) {
		limit = len(tracked)
	}
	for _, td := range tracked[:limit] {
		bbox := td.BoundingBox()
		if bbox == nil {
			continue
		}
		plate, err := p.opts.Recognizer(ctx, frame.Image, *bbox)
		if err != nil {
			p.logger.Debugw("plate recognition failed", "camera", frame.CameraID, "error", err)
			continue
		}
		if plate != nil && plate.Text != "" {
			return plate.Text
		}
	}
	return ""
}

func (p *Pipeline) buildEvent(
	frame stream.Frame,
	tracked []tracking.TrackedDetection,
	attrs []*classification.Attributes,
	updates []occupancy.SlotUpdate,
) *publisher.DetectionEvent {
	cam := p.cameras[frame.CameraID]
	wire := make([]publisher.Detection, 0, len(tracked))
	for i, td := range tracked {
		d := publisher.Detection{
			ClassID:    ClassID(td.Label()),
			ClassName:  td.Label(),
			Confidence: td.Score(),
			TrackID:    td.TrackID,
		}
		if bbox := td.BoundingBox(); bbox != nil {
			d.BBox = publisher.NewBoundingBox(*bbox)
		}
		if i < len(attrs) {
			d.Attributes = attrs[i]
		}
		wire = append(wire, d)
	}
	if updates == nil {
		updates = []occupancy.SlotUpdate{}
	}
	return &publisher.DetectionEvent{
		CameraID:     frame.CameraID,
		ParkingLotID: cam.ParkingLotID,
		ZoneID:       cam.ZoneID,
		Timestamp:    frame.CapturedAt,
		FrameNumber:  frame.Number,
		Detections:   wire,
		SlotUpdates:  updates,
	}
}

func (p *Pipeline) trackerFor(cameraID string) *tracking.Tracker {
	t, ok := p.trackers[cameraID]
	if !ok {
		t = tracking.NewTracker(p.cfg.IOUThreshold, p.cfg.MaxTrackAge)
		p.trackers[cameraID] = t
	}
	return t
}

func (p *Pipeline) regionsFor(cameraID string) []occupancy.SlotRegion {
	p.slotMu.RLock()
	defer p.slotMu.RUnlock()
	return p.slotRegions[cameraID]
}

// Status is a point-in-time snapshot for logs and debugging endpoints.
type Status struct {
	Cameras      map[string]stream.Status             `json:"cameras"`
	Latency      map[latency.Stage]latency.StageStats `json:"latency"`
	SkipInterval int                                  `json:"skipInterval"`
	QueuedEvents int                                  `json:"queuedEvents"`
}

// Status reports current camera, latency and queue state.
func (p *Pipeline) Status() Status {
	return Status{
		Cameras:      p.registry.Status(),
		Latency:      p.latency.Stats(),
		SkipInterval: p.skipper.CurrentInterval(),
		QueuedEvents: p.pub.QueueLen(),
	}
}

// MetricsHandler serves the pipeline's Prometheus counters.
func (p *Pipeline) MetricsHandler() http.Handler {
	return p.metrics.Handler()
}
