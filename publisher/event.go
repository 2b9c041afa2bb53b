// Package publisher batches detection events and delivers them to the
// downstream consumer API, with an immediate best-effort channel for single
// slot updates and an optional fan-out mirror.
package publisher

import (
	"image"
	"time"

	"github.com/sparkvision/pipeline/vision/classification"
	"github.com/sparkvision/pipeline/vision/occupancy"
)

// BoundingBox is the wire form of a pixel rectangle.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewBoundingBox converts an image.Rectangle to its wire form.
func NewBoundingBox(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Detection is the wire form of one tracked detection.
type Detection struct {
	ClassID    int                        `json:"classId"`
	ClassName  string                     `json:"className"`
	Confidence float64                    `json:"confidence"`
	BBox       BoundingBox                `json:"bbox"`
	TrackID    int64                      `json:"trackId,omitempty"`
	Attributes *classification.Attributes `json:"attributes,omitempty"`
}

// DetectionEvent is the outbound payload for one processed frame.
type DetectionEvent struct {
	CameraID     string                 `json:"cameraId"`
	ParkingLotID string                 `json:"parkingLotId"`
	ZoneID       string                 `json:"zoneId,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	FrameNumber  int64                  `json:"frameNumber"`
	Detections   []Detection            `json:"detections"`
	SlotUpdates  []occupancy.SlotUpdate `json:"slotUpdates"`
}

// SlotUpdateEvent is the payload of the immediate, unbatched slot channel
// for low-latency display consumers.
type SlotUpdateEvent struct {
	CameraID     string    `json:"cameraId"`
	ParkingLotID string    `json:"parkingLotId"`
	SlotID       string    `json:"slotId"`
	IsOccupied   bool      `json:"isOccupied"`
	Confidence   float64   `json:"confidence"`
	VehicleType  string    `json:"vehicleType,omitempty"`
	LicensePlate string    `json:"licensePlate,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// batchPayload is the body of one batch POST.
type batchPayload struct {
	Events    []*DetectionEvent `json:"events"`
	Timestamp time.Time         `json:"timestamp"`
}
