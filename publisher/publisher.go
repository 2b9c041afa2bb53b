package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/sparkvision/pipeline/logging"
	"github.com/sparkvision/pipeline/utils"
)

// FanOut mirrors outbound traffic onto a secondary channel. Its failures
// are isolated from the primary path.
type FanOut interface {
	MirrorEvent(event *DetectionEvent) error
	MirrorSlotUpdate(update *SlotUpdateEvent) error
	Close() error
}

// Config configures the publisher.
type Config struct {
	// Endpoint receives batch POSTs; the immediate channel posts to
	// Endpoint + "/slot".
	Endpoint       string
	BatchSize      int
	FlushInterval  time.Duration
	RequestTimeout time.Duration
}

const (
	defaultBatchSize      = 10
	defaultFlushInterval  = time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Option configures optional publisher behavior.
type Option func(*Publisher)

// WithClock substitutes the clock driving the periodic flush; tests use a
// mock.
func WithClock(c clock.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

// WithFanOut mirrors every batch and every immediate update onto the given
// secondary channel.
func WithFanOut(f FanOut) Option {
	return func(p *Publisher) { p.fanout = f }
}

// WithHTTPClient substitutes the transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) { p.client = c }
}

// Publisher queues detection events and flushes them in batches: as soon as
// the queue reaches BatchSize, and on every FlushInterval regardless of
// size, whichever comes first. A failed batch is prepended back onto the
// queue ahead of anything queued meanwhile, giving at-least-once delivery;
// consumers must tolerate duplicates.
type Publisher struct {
	cfg    Config
	logger logging.Logger
	clock  clock.Clock
	client *http.Client
	fanout FanOut

	mu    sync.Mutex
	queue []*DetectionEvent

	flushNow chan struct{}
	workers  *utils.StoppableWorkers
}

// New returns an unstarted publisher.
func New(cfg Config, logger logging.Logger, opts ...Option) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	p := &Publisher{
		cfg:      cfg,
		logger:   logger,
		clock:    clock.New(),
		flushNow: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return p
}

// Start launches the periodic flush worker.
func (p *Publisher) Start() {
	if p.workers != nil {
		return
	}
	p.workers = utils.NewStoppableWorkers(p.flushLoop)
	p.logger.Infow("event publisher started",
		"endpoint", p.cfg.Endpoint, "batch_size", p.cfg.BatchSize, "flush_interval", p.cfg.FlushInterval)
}

// Stop cancels the periodic flush worker and performs one final
// synchronous flush before releasing the transport.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.workers != nil {
		p.workers.Stop()
		p.workers = nil
	}
	err := p.Flush(ctx)
	if p.fanout != nil {
		err = multierr.Combine(err, p.fanout.Close())
	}
	p.logger.Infow("event publisher stopped")
	return err
}

// Publish appends one event to the queue. Reaching BatchSize triggers an
// immediate flush on the worker; the caller never blocks on the network.
func (p *Publisher) Publish(event *DetectionEvent) {
	p.mu.Lock()
	p.queue = append(p.queue, event)
	full := len(p.queue) >= p.cfg.BatchSize
	p.mu.Unlock()
	if full {
		select {
		case p.flushNow <- struct{}{}:
		default:
		}
	}
}

// QueueLen returns the number of queued events.
func (p *Publisher) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// PublishSlotUpdate sends one slot update immediately on the unbatched
// channel. Failures are logged, never retried.
func (p *Publisher) PublishSlotUpdate(ctx context.Context, update *SlotUpdateEvent) {
	if update.Timestamp.IsZero() {
		update.Timestamp = p.clock.Now().UTC()
	}
	if err := p.post(ctx, p.cfg.Endpoint+"/slot", update); err != nil {
		p.logger.Warnw("slot update publish failed", "slot", update.SlotID, "error", err)
	}
	p.mirrorSlotUpdate(update)
}

// Flush sends everything currently queued as one batch request. On
// transport failure the whole batch is prepended back onto the queue.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	events := p.queue
	p.queue = nil
	p.mu.Unlock()
	if len(events) == 0 {
		return nil
	}

	payload := batchPayload{Events: events, Timestamp: p.clock.Now().UTC()}
	if err := p.post(ctx, p.cfg.Endpoint, payload); err != nil {
		p.mu.Lock()
		p.queue = append(events, p.queue...)
		p.mu.Unlock()
		p.logger.Warnw("batch publish failed; events requeued", "events", len(events), "error", err)
		return err
	}
	p.logger.Debugw("published events", "events", len(events))
	for _, event := range events {
		p.mirrorEvent(event)
	}
	return nil
}

func (p *Publisher) flushLoop(ctx context.Context) {
	ticker := p.clock.Ticker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.flushNow:
		}
		//nolint:errcheck // requeue already logged; the next trigger retries
		p.Flush(ctx)
	}
}

func (p *Publisher) post(ctx context.Context, url string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("api returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *Publisher) mirrorEvent(event *DetectionEvent) {
	if p.fanout == nil {
		return
	}
	if err := p.fanout.MirrorEvent(event); err != nil {
		p.logger.Warnw("fan-out event mirror failed", "camera", event.CameraID, "error", err)
	}
}

func (p *Publisher) mirrorSlotUpdate(update *SlotUpdateEvent) {
	if p.fanout == nil {
		return
	}
	if err := p.fanout.MirrorSlotUpdate(update); err != nil {
		p.logger.Warnw("fan-out slot mirror failed", "slot", update.SlotID, "error", err)
	}
}
