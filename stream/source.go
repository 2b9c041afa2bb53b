package stream

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"github.com/sparkvision/pipeline/logging"
	"github.com/sparkvision/pipeline/utils"
)

// FrameReader reads successive frames from a connected camera handle.
type FrameReader interface {
	// Read blocks until the next frame arrives or ctx expires.
	Read(ctx context.Context) (image.Image, error)
	// Close releases the underlying handle.
	Close(ctx context.Context) error
}

// Dialer connects to a camera and returns a reader over its frames. The
// source calls it again after every read failure.
type Dialer func(ctx context.Context) (FrameReader, error)

// Config configures a single camera source.
type Config struct {
	CameraID       string
	BufferSize     int
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// TargetFPS throttles frame acceptance; frames arriving before the
	// minimum inter-frame interval are skipped. Zero disables throttling.
	TargetFPS float64
}

const (
	defaultBufferSize     = 30
	defaultReconnectDelay = 5 * time.Second
	defaultIOTimeout      = 5 * time.Second
)

func (c *Config) withDefaults() Config {
	out := *c
	if out.BufferSize <= 0 {
		out.BufferSize = defaultBufferSize
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = defaultReconnectDelay
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = defaultIOTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = defaultIOTimeout
	}
	return out
}

// Source owns one camera. Its capture worker runs in the background,
// reconnecting forever on failure; read failures are logged, never fatal.
type Source struct {
	cfg    Config
	dial   Dialer
	logger logging.Logger

	buf     *FrameBuffer
	workers *utils.StoppableWorkers

	connected   atomic.Bool
	frameNumber atomic.Int64
	fps         atomic.Float64
}

// NewSource returns an unstarted source for one camera.
func NewSource(cfg Config, dial Dialer, logger logging.Logger) (*Source, error) {
	if cfg.CameraID == "" {
		return nil, errors.New("camera id cannot be empty")
	}
	if dial == nil {
		return nil, errors.New("camera dialer cannot be nil")
	}
	cfg = (&cfg).withDefaults()
	return &Source{
		cfg:    cfg,
		dial:   dial,
		logger: logger.Named(cfg.CameraID),
		buf:    NewFrameBuffer(cfg.BufferSize),
	}, nil
}

// Start launches the capture worker. Calling Start on a started source is
// a no-op.
func (s *Source) Start() {
	if s.workers != nil {
		return
	}
	s.workers = utils.NewStoppableWorkers(s.captureLoop)
	s.logger.Infow("camera started")
}

// Stop joins the capture worker and releases the camera handle. Reads and
// connects are timeout-bounded, so the join is too.
func (s *Source) Stop() {
	if s.workers == nil {
		return
	}
	s.workers.Stop()
	s.workers = nil
	s.connected.Store(false)
	s.logger.Infow("camera stopped")
}

// Latest drains the buffer and returns the most recent frame, or false if
// none is buffered. Never blocks.
func (s *Source) Latest() (Frame, bool) {
	return s.buf.Latest()
}

// Next returns the next buffered frame, waiting up to timeout.
func (s *Source) Next(ctx context.Context, timeout time.Duration) (Frame, bool) {
	return s.buf.Next(ctx, timeout)
}

// Connected reports whether the camera handle is currently open.
func (s *Source) Connected() bool {
	return s.connected.Load()
}

// FPS returns the measured capture rate.
func (s *Source) FPS() float64 {
	return s.fps.Load()
}

// FrameNumber returns the number of the most recently captured frame.
func (s *Source) FrameNumber() int64 {
	return s.frameNumber.Load()
}

// CameraID returns the camera's id.
func (s *Source) CameraID() string {
	return s.cfg.CameraID
}

func (s *Source) captureLoop(ctx context.Context) {
	var reader FrameReader
	release := func() {
		if reader == nil {
			return
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ReadTimeout)
		if err := reader.Close(closeCtx); err != nil {
			s.logger.Debugw("error releasing camera handle", "error", err)
		}
		cancel()
		reader = nil
		s.connected.Store(false)
	}
	defer release()

	var lastFrameAt time.Time
	var minInterval time.Duration
	if s.cfg.TargetFPS > 0 {
		minInterval = time.Duration(float64(time.Second) / s.cfg.TargetFPS)
	}

	for ctx.Err() == nil {
		if reader == nil {
			connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
			r, err := s.dial(connectCtx)
			cancel()
			if err != nil {
				s.logger.Warnw("camera connect failed; will retry",
					"error", err, "retry_in", s.cfg.ReconnectDelay)
				if !goutils.SelectContextOrWait(ctx, s.cfg.ReconnectDelay) {
					return
				}
				continue
			}
			reader = r
			s.connected.Store(true)
			s.logger.Infow("camera connected")
		}

		readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		img, err := reader.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnw("frame read failed; reconnecting", "error", err)
			release()
			continue
		}

		now := time.Now()
		if minInterval > 0 && !lastFrameAt.IsZero() && now.Sub(lastFrameAt) < minInterval {
			continue
		}
		if !lastFrameAt.IsZero() {
			if dt := now.Sub(lastFrameAt).Seconds(); dt > 0 {
				s.fps.Store(1.0 / dt)
			}
		}
		lastFrameAt = now

		s.buf.Push(Frame{
			CameraID:   s.cfg.CameraID,
			Number:     s.frameNumber.Inc(),
			Image:      img,
			CapturedAt: now,
		})
	}
}
