// Package stream owns per-camera capture: connecting, buffering,
// throttling and reconnecting, one background worker per camera.
package stream

import (
	"image"
	"time"
)

// Frame is one captured image with its metadata.
type Frame struct {
	CameraID   string
	Number     int64
	Image      image.Image
	CapturedAt time.Time
}
