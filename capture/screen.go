package capture

import (
	"context"

	"github.com/kbinani/screenshot"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/images"
)

// ScreenProvider captures from the desktop. Coordinates span all displays.
type ScreenProvider struct{}

// NewScreenProvider creates a screen provider.
func NewScreenProvider() *ScreenProvider {
	return &ScreenProvider{}
}

// Capture implements Provider.
func (p *ScreenProvider) Capture(ctx context.Context, region Region) (images.Frame, error) {
	if err := ctx.Err(); err != nil {
		return images.Frame{}, err
	}
	if err := region.Validate(); err != nil {
		return images.Frame{}, errors.Wrap(ErrCapture, err.Error())
	}
	if screenshot.NumActiveDisplays() == 0 {
		return images.Frame{}, errors.Wrap(ErrCapture, "no active displays")
	}

	img, err := screenshot.CaptureRect(region.Rectangle())
	if err != nil {
		return images.Frame{}, errors.Wrapf(ErrCapture, "capture %s: %v", region, err)
	}
	return images.FromImage(img), nil
}

// Close implements Provider.
func (p *ScreenProvider) Close() error {
	return nil
}
