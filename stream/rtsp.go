package stream

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"strings"
	"sync/atomic"

	"github.com/aler9/gortsplib/v2"
	"github.com/aler9/gortsplib/v2/pkg/format"
	"github.com/aler9/gortsplib/v2/pkg/liberrors"
	"github.com/aler9/gortsplib/v2/pkg/url"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DialRTSP returns a Dialer for the MJPEG track of an RTSP stream. The
// source calls it on connect and again after every read failure, so each
// invocation sets up a fresh client session.
func DialRTSP(address string) Dialer {
	return func(ctx context.Context) (FrameReader, error) {
		return dialRTSP(ctx, address)
	}
}

// rtspReader holds one playing RTSP session. Frames decode on the client's
// packet callback; Read hands out the most recent one.
type rtspReader struct {
	client      *gortsplib.Client
	cancelCtx   context.Context
	cancel      context.CancelFunc
	latestFrame atomic.Value
	gotFirst    chan struct{}
}

func dialRTSP(ctx context.Context, address string) (_ FrameReader, err error) {
	if !strings.HasPrefix(address, "rtsp://") {
		return nil, errors.Errorf(`stream url %q must begin with "rtsp://"`, address)
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing stream url %q", address)
	}

	c := &gortsplib.Client{}
	if err := c.Start(u.Scheme, u.Host); err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", u.Host)
	}
	var clientSuccessful bool
	defer func() {
		if !clientSuccessful {
			multierr.AppendInto(&err, c.Close())
		}
	}()

	medias, baseURL, _, err := c.Describe(u)
	if err != nil {
		return nil, err
	}
	var mjpeg *format.MJPEG
	medi := medias.FindFormat(&mjpeg)
	if medi == nil {
		return nil, errors.Errorf("no MJPEG track in stream %s", u)
	}
	rtpDec := mjpeg.CreateDecoder()
	if _, err = c.Setup(medi, baseURL, 0, 0); err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	r := &rtspReader{
		client:    c,
		cancelCtx: cancelCtx,
		cancel:    cancel,
		gotFirst:  make(chan struct{}),
	}
	var gotFirstOnce bool
	c.OnPacketRTP(medi, mjpeg, func(pkt *rtp.Packet) {
		encoded, _, err := rtpDec.Decode(pkt)
		if err != nil {
			return
		}
		img, err := jpeg.Decode(bytes.NewReader(encoded))
		if err != nil || img == nil {
			return
		}
		r.latestFrame.Store(img)
		if !gotFirstOnce {
			gotFirstOnce = true
			close(r.gotFirst)
		}
	})
	if _, err = c.Play(nil); err != nil {
		return nil, err
	}
	clientSuccessful = true
	return r, nil
}

// Read returns the most recently decoded frame, blocking until the first
// one arrives.
func (r *rtspReader) Read(ctx context.Context) (image.Image, error) {
	select {
	case <-r.gotFirst:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.cancelCtx.Done():
		return nil, r.cancelCtx.Err()
	}
	img, ok := r.latestFrame.Load().(image.Image)
	if !ok {
		return nil, errors.New("rtsp session closed before first frame")
	}
	return img, nil
}

// Close tears the session down. A terminated client is not an error; the
// server may have hung up first.
func (r *rtspReader) Close(ctx context.Context) error {
	var clientTerminated liberrors.ErrClientTerminated
	r.cancel()
	if err := r.client.Close(); err != nil && !errors.Is(err, clientTerminated) {
		return err
	}
	return nil
}
