package capture

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-tileinfer/images"
)

// VideoProvider reads frames from a video file, camera index or stream and crops the
// region out of each one.
type VideoProvider struct {
	mu     sync.Mutex
	source string
	loop   bool
	vc     *gocv.VideoCapture
	mat    gocv.Mat
}

// NewVideoProvider opens source. A numeric source is treated as a camera index.
func NewVideoProvider(source string, loop bool) (*VideoProvider, error) {
	var device interface{} = source
	if id, err := strconv.Atoi(source); err == nil {
		device = id
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(err, "open video source %q", source)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Errorf("video source %q did not open", source)
	}

	return &VideoProvider{source: source, loop: loop, vc: vc, mat: gocv.NewMat()}, nil
}

// Capture implements Provider. Each call consumes one frame.
func (p *VideoProvider) Capture(ctx context.Context, region Region) (images.Frame, error) {
	if err := ctx.Err(); err != nil {
		return images.Frame{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.vc.Read(&p.mat) || p.mat.Empty() {
		if !p.loop {
			return images.Frame{}, errors.Wrapf(ErrCapture, "video source %q ended", p.source)
		}
		p.vc.Set(gocv.VideoCapturePosFrames, 0)
		if !p.vc.Read(&p.mat) || p.mat.Empty() {
			return images.Frame{}, errors.Wrapf(ErrCapture, "video source %q has no frames", p.source)
		}
	}

	frame, err := images.FromMat(p.mat)
	if err != nil {
		return images.Frame{}, errors.Wrapf(ErrCapture, "decode frame: %v", err)
	}
	return cropRegion(frame, region)
}

// Close implements Provider.
func (p *VideoProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mat.Close()
	return p.vc.Close()
}
