// Package images - Image processing utilities
package images

import (
	"image"

	"github.com/chewxy/math32"
)

// Rect is a lightweight floating point bounding box in pixel space.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// Area returns the area of the box, zero for degenerate boxes.
func (r Rect) Area() float32 {
	w, h := r.X2-r.X1, r.Y2-r.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Scale multiplies the x and y coordinates by the given factors.
func (r Rect) Scale(sx, sy float32) Rect {
	return Rect{X1: r.X1 * sx, Y1: r.Y1 * sy, X2: r.X2 * sx, Y2: r.Y2 * sy}
}

// Rectangle converts the box to an integer rectangle clipped to bounds.
//
// The minimum corner is floored and the maximum corner is ceiled so the
// integer rectangle always covers the floating point one.
func (r Rect) Rectangle(bounds image.Rectangle) image.Rectangle {
	return image.Rect(
		int(math32.Floor(r.X1)),
		int(math32.Floor(r.Y1)),
		int(math32.Ceil(r.X2)),
		int(math32.Ceil(r.Y2)),
	).Intersect(bounds)
}

// CalculateIoU returns the Intersection over Union of two boxes, a value between 0.0 and 1.0.
//
// The intersection is bounded by the maximum of the two top-left corners and the
// minimum of the two bottom-right corners; non-overlapping boxes score 0. The union
// follows inclusion-exclusion: Area(A) + Area(B) - Area(A∩B).
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	inter := Rect{
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
		X2: min(r.X2, o.X2),
		Y2: min(r.Y2, o.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}

	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
