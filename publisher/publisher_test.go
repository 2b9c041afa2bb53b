package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/sparkvision/pipeline/logging"
)

type capturedBatch struct {
	Events []DetectionEvent `json:"events"`
}

// captureServer records batch and slot posts and can be told to fail.
type captureServer struct {
	mu      sync.Mutex
	batches []capturedBatch
	slots   []SlotUpdateEvent
	failing bool
	srv     *httptest.Server
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/slot":
			var update SlotUpdateEvent
			test.That(t, json.NewDecoder(r.Body).Decode(&update), test.ShouldBeNil)
			cs.slots = append(cs.slots, update)
		default:
			var batch capturedBatch
			test.That(t, json.NewDecoder(r.Body).Decode(&batch), test.ShouldBeNil)
			cs.batches = append(cs.batches, batch)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) setFailing(failing bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.failing = failing
}

func (cs *captureServer) batchCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.batches)
}

func event(camera string, frame int64) *DetectionEvent {
	return &DetectionEvent{
		CameraID:     camera,
		ParkingLotID: "lot_1",
		FrameNumber:  frame,
		Timestamp:    time.Now().UTC(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestFlushAtBatchSize(t *testing.T) {
	cs := newCaptureServer(t)
	p := New(Config{Endpoint: cs.srv.URL, BatchSize: 3, FlushInterval: time.Hour},
		logging.NewTestLogger(t))
	p.Start()
	defer func() {
		test.That(t, p.Stop(context.Background()), test.ShouldBeNil)
	}()

	p.Publish(event("cam1", 1))
	p.Publish(event("cam1", 2))
	test.That(t, cs.batchCount(), test.ShouldEqual, 0)

	// the third event fills the batch; the worker flushes without the
	// ticker ever firing
	p.Publish(event("cam1", 3))
	waitFor(t, func() bool { return cs.batchCount() == 1 })

	cs.mu.Lock()
	defer cs.mu.Unlock()
	test.That(t, cs.batches[0].Events, test.ShouldHaveLength, 3)
	test.That(t, cs.batches[0].Events[0].FrameNumber, test.ShouldEqual, 1)
	test.That(t, cs.batches[0].Events[2].FrameNumber, test.ShouldEqual, 3)
}

func TestFlushAtInterval(t *testing.T) {
	cs := newCaptureServer(t)
	mock := clock.NewMock()
	p := New(Config{Endpoint: cs.srv.URL, BatchSize: 100, FlushInterval: time.Second},
		logging.NewTestLogger(t), WithClock(mock))
	p.Start()
	defer func() {
		test.That(t, p.Stop(context.Background()), test.ShouldBeNil)
	}()

	p.Publish(event("cam1", 1))
	test.That(t, cs.batchCount(), test.ShouldEqual, 0)

	// give the worker a beat to build its ticker before advancing time
	time.Sleep(50 * time.Millisecond)

	// a single interval elapses; the undersized batch goes out anyway
	mock.Add(time.Second)
	waitFor(t, func() bool { return cs.batchCount() == 1 })
	cs.mu.Lock()
	defer cs.mu.Unlock()
	test.That(t, cs.batches[0].Events, test.ShouldHaveLength, 1)
}

func TestFailedBatchRequeuedInOrder(t *testing.T) {
	cs := newCaptureServer(t)
	cs.setFailing(true)
	p := New(Config{Endpoint: cs.srv.URL, BatchSize: 100, FlushInterval: time.Hour},
		logging.NewTestLogger(t))

	p.Publish(event("cam1", 1))
	p.Publish(event("cam1", 2))
	err := p.Flush(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, p.QueueLen(), test.ShouldEqual, 2)

	// newer events queue behind the requeued failures
	p.Publish(event("cam1", 3))
	cs.setFailing(false)
	test.That(t, p.Flush(context.Background()), test.ShouldBeNil)
	test.That(t, p.QueueLen(), test.ShouldEqual, 0)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	test.That(t, cs.batches, test.ShouldHaveLength, 1)
	test.That(t, cs.batches[0].Events, test.ShouldHaveLength, 3)
	test.That(t, cs.batches[0].Events[0].FrameNumber, test.ShouldEqual, 1)
	test.That(t, cs.batches[0].Events[1].FrameNumber, test.ShouldEqual, 2)
	test.That(t, cs.batches[0].Events[2].FrameNumber, test.ShouldEqual, 3)
}

func TestSlotUpdateImmediate(t *testing.T) {
	cs := newCaptureServer(t)
	p := New(Config{Endpoint: cs.srv.URL, FlushInterval: time.Hour}, logging.NewTestLogger(t))

	p.PublishSlotUpdate(context.Background(), &SlotUpdateEvent{
		CameraID:   "cam1",
		SlotID:     "slot_9",
		IsOccupied: true,
		Confidence: 0.8,
	})

	cs.mu.Lock()
	defer cs.mu.Unlock()
	test.That(t, cs.slots, test.ShouldHaveLength, 1)
	test.That(t, cs.slots[0].SlotID, test.ShouldEqual, "slot_9")
	test.That(t, cs.slots[0].IsOccupied, test.ShouldBeTrue)
	test.That(t, cs.slots[0].Timestamp.IsZero(), test.ShouldBeFalse)
}

func TestSlotUpdateFailureIsBestEffort(t *testing.T) {
	cs := newCaptureServer(t)
	cs.setFailing(true)
	logger, observed := logging.NewObservedTestLogger(t)
	p := New(Config{Endpoint: cs.srv.URL, FlushInterval: time.Hour}, logger)

	// no error escapes; the failure is only logged
	p.PublishSlotUpdate(context.Background(), &SlotUpdateEvent{SlotID: "slot_1"})
	test.That(t, observed.FilterMessageSnippet("slot update publish failed").Len(), test.ShouldEqual, 1)
}

type recordingFanOut struct {
	mu      sync.Mutex
	events  []*DetectionEvent
	updates []*SlotUpdateEvent
	closed  bool
}

func (f *recordingFanOut) MirrorEvent(event *DetectionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *recordingFanOut) MirrorSlotUpdate(update *SlotUpdateEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return nil
}

func (f *recordingFanOut) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestFanOutMirroring(t *testing.T) {
	cs := newCaptureServer(t)
	fan := &recordingFanOut{}
	p := New(Config{Endpoint: cs.srv.URL, BatchSize: 100, FlushInterval: time.Hour},
		logging.NewTestLogger(t), WithFanOut(fan))

	p.Publish(event("cam1", 1))
	test.That(t, p.Flush(context.Background()), test.ShouldBeNil)
	p.PublishSlotUpdate(context.Background(), &SlotUpdateEvent{SlotID: "slot_2"})

	fan.mu.Lock()
	test.That(t, fan.events, test.ShouldHaveLength, 1)
	test.That(t, fan.updates, test.ShouldHaveLength, 1)
	fan.mu.Unlock()

	test.That(t, p.Stop(context.Background()), test.ShouldBeNil)
	fan.mu.Lock()
	defer fan.mu.Unlock()
	test.That(t, fan.closed, test.ShouldBeTrue)
}

func TestFanOutSkippedOnFailedBatch(t *testing.T) {
	cs := newCaptureServer(t)
	cs.setFailing(true)
	fan := &recordingFanOut{}
	p := New(Config{Endpoint: cs.srv.URL, BatchSize: 100, FlushInterval: time.Hour},
		logging.NewTestLogger(t), WithFanOut(fan))

	p.Publish(event("cam1", 1))
	test.That(t, p.Flush(context.Background()), test.ShouldNotBeNil)

	// only delivered events are mirrored
	fan.mu.Lock()
	defer fan.mu.Unlock()
	test.That(t, fan.events, test.ShouldBeEmpty)
}

func TestStopFlushesRemainder(t *testing.T) {
	cs := newCaptureServer(t)
	p := New(Config{Endpoint: cs.srv.URL, BatchSize: 100, FlushInterval: time.Hour},
		logging.NewTestLogger(t))
	p.Start()

	p.Publish(event("cam1", 1))
	test.That(t, p.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, cs.batchCount(), test.ShouldEqual, 1)
}
