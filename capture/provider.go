package capture

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/images"
)

// ErrCapture is returned when a provider cannot produce a frame.
var ErrCapture = errors.New("capture failed")

// Provider turns a region into a frame.
type Provider interface {
	// Capture grabs the pixels inside region.
	Capture(ctx context.Context, region Region) (images.Frame, error)
	// Close releases the underlying device or file.
	Close() error
}

// Provider kinds accepted in configuration.
const (
	KindScreen    = "screen"
	KindVideo     = "video"
	KindImage     = "image"
	KindDirectory = "directory"
)

// Config selects and configures a provider.
type Config struct {
	// Kind is one of screen, video, image or directory.
	Kind string `mapstructure:"kind"`
	// Source is a file, directory, device index or stream URL, depending on Kind.
	Source string `mapstructure:"source"`
	// Loop restarts video and directory sources when they run out.
	Loop bool `mapstructure:"loop"`
}

// NewProvider builds the provider named by cfg.Kind.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindScreen:
		return NewScreenProvider(), nil
	case KindVideo:
		return NewVideoProvider(cfg.Source, cfg.Loop)
	case KindImage:
		return NewImageProvider(cfg.Source)
	case KindDirectory:
		return NewDirectoryProvider(cfg.Source, cfg.Loop)
	default:
		return nil, errors.Errorf("unsupported capture provider %q", cfg.Kind)
	}
}

// cropRegion copies region out of a source frame whose origin is the region's
// coordinate origin. Regions reaching past the source are clipped.
func cropRegion(frame images.Frame, region Region) (images.Frame, error) {
	if err := region.Validate(); err != nil {
		return images.Frame{}, errors.Wrap(ErrCapture, err.Error())
	}
	rect := region.Rectangle().Intersect(frame.Bounds())
	if rect.Empty() {
		return images.Frame{}, errors.Wrapf(ErrCapture, "region %s lies outside the %v source", region, frame.Bounds().Size())
	}
	return frame.Sub(rect)
}
