// Package capture - Screen regions and the providers that turn them into frames.
package capture

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrInvalidRegion is returned for regions with no area.
var ErrInvalidRegion = errors.New("region must have positive width and height")

// Region is a rectangle in screen coordinates. It is an immutable value; replace it
// wholesale through a RegionRef.
type Region struct {
	Left   uint `mapstructure:"left"   json:"left"`
	Top    uint `mapstructure:"top"    json:"top"`
	Width  uint `mapstructure:"width"  json:"width"`
	Height uint `mapstructure:"height" json:"height"`
}

// Validate reports whether the region can be captured.
func (r Region) Validate() error {
	if r.Width == 0 || r.Height == 0 {
		return errors.Wrapf(ErrInvalidRegion, "got %dx%d", r.Width, r.Height)
	}
	return nil
}

// Rectangle converts the region to an image.Rectangle.
func (r Region) Rectangle() image.Rectangle {
	return image.Rect(int(r.Left), int(r.Top), int(r.Left+r.Width), int(r.Top+r.Height))
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.Left, r.Top)
}

// RegionRef is the shared, swappable capture region. Writers replace the whole value so
// readers never see a half-updated region.
type RegionRef struct {
	ptr atomic.Pointer[Region]
}

// NewRegionRef creates a reference holding r.
func NewRegionRef(r Region) (*RegionRef, error) {
	ref := &RegionRef{}
	if err := ref.Store(r); err != nil {
		return nil, err
	}
	return ref, nil
}

// Load returns the current region and whether one has been set.
func (ref *RegionRef) Load() (Region, bool) {
	p := ref.ptr.Load()
	if p == nil {
		return Region{}, false
	}
	return *p, true
}

// Store validates r and makes it the current region.
func (ref *RegionRef) Store(r Region) error {
	if err := r.Validate(); err != nil {
		return err
	}
	ref.ptr.Store(&r)
	return nil
}
