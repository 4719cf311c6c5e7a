package controller

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-tileinfer/images"
)

// ChangeDetector scores how much a frame differs from the previous one, from 0 (same)
// to 1 (everything changed). The first frame, and any frame whose size differs from its
// predecessor, scores 1.
type ChangeDetector interface {
	Score(frame images.Frame) (float64, error)
}

// ChecksumChange reports 0 for byte-identical consecutive frames and 1 otherwise.
type ChecksumChange struct {
	mu   sync.Mutex
	last string
}

// Score implements ChangeDetector.
func (c *ChecksumChange) Score(frame images.Frame) (float64, error) {
	sum := images.ComputeChecksum(frame)

	c.mu.Lock()
	defer c.mu.Unlock()

	same := sum == c.last
	c.last = sum
	if same {
		return 0, nil
	}
	return 1, nil
}

// FrameDifferenceConfig tunes FrameDifference.
type FrameDifferenceConfig struct {
	// DifferenceThreshold is the grey level difference that counts as a changed pixel.
	DifferenceThreshold float32 `mapstructure:"difference_threshold"`
	// BlurKernelSize smooths capture noise before differencing. Must be odd; zero
	// disables the blur.
	BlurKernelSize int `mapstructure:"blur_kernel_size"`
}

// DefaultFrameDifferenceConfig returns settings suited to screen content.
func DefaultFrameDifferenceConfig() FrameDifferenceConfig {
	return FrameDifferenceConfig{
		DifferenceThreshold: 30,
		BlurKernelSize:      5,
	}
}

// FrameDifference scores change as the fraction of pixels whose blurred grey level moved
// by more than the threshold since the previous frame.
type FrameDifference struct {
	config   FrameDifferenceConfig
	mu       sync.Mutex
	previous gocv.Mat
	size     image.Point
}

// NewFrameDifference creates a detector. Close it to release the stored frame.
//
// Arguments:
//   - config: Configuration parameters for change detection.
//
// Returns:
//   - *FrameDifference: The detector.
func NewFrameDifference(config FrameDifferenceConfig) *FrameDifference {
	if config.DifferenceThreshold <= 0 {
		config.DifferenceThreshold = DefaultFrameDifferenceConfig().DifferenceThreshold
	}
	if config.BlurKernelSize > 0 && config.BlurKernelSize%2 == 0 {
		config.BlurKernelSize++
	}
	return &FrameDifference{config: config, previous: gocv.NewMat()}
}

// Score implements ChangeDetector.
func (fd *FrameDifference) Score(frame images.Frame) (float64, error) {
	bgr, err := images.ToMat(frame)
	if err != nil {
		return 0, errors.Wrap(err, "convert frame")
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	if k := fd.config.BlurKernelSize; k > 0 {
		gocv.GaussianBlur(gray, &gray, image.Pt(k, k), 0, 0, gocv.BorderDefault)
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	size := image.Pt(frame.Width, frame.Height)
	if fd.previous.Empty() || size != fd.size {
		fd.size = size
		gray.CopyTo(&fd.previous)
		return 1, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, fd.previous, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, fd.config.DifferenceThreshold, 255, gocv.ThresholdBinary)

	changed := gocv.CountNonZero(mask)
	gray.CopyTo(&fd.previous)

	return float64(changed) / float64(frame.Width*frame.Height), nil
}

// Reset forgets the previous frame.
func (fd *FrameDifference) Reset() {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.previous.Close()
	fd.previous = gocv.NewMat()
	fd.size = image.Point{}
}

// Close releases the stored frame.
func (fd *FrameDifference) Close() error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.previous.Close()
}
