package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIoU_Correctness validates the IoU implementation against known test cases
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Rect
		r2       Rect
		expected float32
	}{
		{
			name:     "Identical rectangles",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{0, 0, 100, 100},
			expected: 1.0,
		},
		{
			name:     "No overlap",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{200, 200, 300, 300},
			expected: 0.0,
		},
		{
			name:     "Touching edges",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{100, 0, 200, 100},
			expected: 0.0,
		},
		{
			name:     "Half overlap",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{50, 50, 150, 150},
			expected: 0.142857, // 2500 / 17500
		},
		{
			name:     "One inside other",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{25, 25, 75, 75},
			expected: 0.25,
		},
		{
			name:     "Degenerate box",
			r1:       Rect{0, 0, 0, 0},
			r2:       Rect{0, 0, 0, 0},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CalculateIoU(tt.r1, tt.r2), 0.001)
			// IoU is symmetric.
			assert.InDelta(t, CalculateIoU(tt.r1, tt.r2), CalculateIoU(tt.r2, tt.r1), 1e-6)
		})
	}
}

func TestRectRectangleCoversAndClips(t *testing.T) {
	bounds := image.Rect(0, 0, 64, 64)

	got := Rect{X1: 1.5, Y1: 2.2, X2: 10.1, Y2: 20.9}.Rectangle(bounds)
	assert.Equal(t, image.Rect(1, 2, 11, 21), got)

	got = Rect{X1: -5, Y1: -5, X2: 80, Y2: 70}.Rectangle(bounds)
	assert.Equal(t, bounds, got)
}

func TestRectScale(t *testing.T) {
	got := Rect{X1: 10, Y1: 20, X2: 30, Y2: 40}.Scale(0.5, 2)
	assert.Equal(t, Rect{X1: 5, Y1: 40, X2: 15, Y2: 80}, got)
}
