package stream

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
)

// FakeReader generates synthetic parking-lot frames at a fixed rate. It is
// a stand-in camera for tests and demos: a row of outlined slots, with a
// random subset covered by colored "vehicles".
type FakeReader struct {
	width, height int
	interval      time.Duration
	clock         clock.Clock
	rand          *rand.Rand
}

// NewFakeReader returns a reader emitting width x height frames at fps.
func NewFakeReader(width, height int, fps float64, c clock.Clock) *FakeReader {
	if c == nil {
		c = clock.New()
	}
	if fps <= 0 {
		fps = 30
	}
	return &FakeReader{
		width:    width,
		height:   height,
		interval: time.Duration(float64(time.Second) / fps),
		clock:    c,
		rand:     rand.New(rand.NewSource(c.Now().UnixNano())),
	}
}

// DialFake returns a Dialer that always connects to a fresh FakeReader.
func DialFake(width, height int, fps float64, c clock.Clock) Dialer {
	return func(ctx context.Context) (FrameReader, error) {
		return NewFakeReader(width, height, fps, c), nil
	}
}

// Read waits one frame interval and returns the next synthetic frame.
func (f *FakeReader) Read(ctx context.Context) (image.Image, error) {
	timer := f.clock.Timer(f.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.nextFrame(), nil
}

// Close implements FrameReader; there is no handle to release.
func (f *FakeReader) Close(ctx context.Context) error {
	return nil
}

func (f *FakeReader) nextFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	asphalt := color.RGBA{80, 80, 80, 255}
	draw.Draw(img, img.Bounds(), image.NewUniform(asphalt), image.Point{}, draw.Src)

	const (
		slotWidth  = 120
		slotHeight = 200
		slotGap    = 20
		numSlots   = 8
		startX     = 100
		startY     = 100
	)
	white := color.RGBA{255, 255, 255, 255}
	for i := 0; i < numSlots; i++ {
		x := startX + i*(slotWidth+slotGap)
		slot := image.Rect(x, startY, x+slotWidth, startY+slotHeight)
		if !slot.In(img.Bounds()) {
			break
		}
		drawOutline(img, slot, white)
		if f.rand.Float64() > 0.5 {
			car := color.RGBA{
				uint8(100 + f.rand.Intn(156)),
				uint8(100 + f.rand.Intn(156)),
				uint8(100 + f.rand.Intn(156)),
				255,
			}
			body := image.Rect(x+10, startY+20, x+slotWidth-10, startY+slotHeight-20)
			draw.Draw(img, body, image.NewUniform(car), image.Point{}, draw.Src)
		}
	}
	return img
}

func drawOutline(img *image.RGBA, r image.Rectangle, c color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, c)
		img.Set(r.Max.X-1, y, c)
	}
}
