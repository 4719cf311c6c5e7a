// Package images - Frame buffers and pixel utilities for the tiling pipeline.
package images

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// BytesPerPixel is the number of bytes used by a single RGB pixel in a Frame.
const BytesPerPixel = 3

// ErrBounds is returned when a rectangle or offset falls outside of a frame.
var ErrBounds = errors.New("rectangle outside of frame bounds")

// Frame is a dense 8-bit RGB pixel buffer of shape (Height, Width, 3), row-major.
//
// Every capture source converts into this canonical channel order before any
// processing happens, so tiles, composites and model inputs all agree on it.
//
// Frame implements image.Image which lets it flow directly into resizers and
// encoders.
type Frame struct {
	// The width of the frame in pixels.
	Width int `json:"width" yaml:"width"`
	// The height of the frame in pixels.
	Height int `json:"height" yaml:"height"`
	// The pixel data, Width*Height*3 bytes.
	Pix []uint8 `json:"-" yaml:"-"`
}

// NewFrame allocates a zeroed frame.
//
// Arguments:
//   - width: The width of the frame in pixels.
//   - height: The height of the frame in pixels.
//
// Returns:
//   - Frame: The new frame.
func NewFrame(width, height int) Frame {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*BytesPerPixel),
	}
}

// Empty reports whether the frame holds no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height*BytesPerPixel
}

// Stride is the number of bytes between vertically adjacent pixels.
func (f Frame) Stride() int {
	return f.Width * BytesPerPixel
}

func (f Frame) offset(x, y int) int {
	return y*f.Stride() + x*BytesPerPixel
}

// RGB returns the channels of the pixel at (x, y).
func (f Frame) RGB(x, y int) (r, g, b uint8) {
	i := f.offset(x, y)
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// SetRGB sets the channels of the pixel at (x, y).
func (f Frame) SetRGB(x, y int, r, g, b uint8) {
	i := f.offset(x, y)
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
}

// ColorModel implements image.Image.
func (f Frame) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds implements image.Image.
func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// At implements image.Image.
func (f Frame) At(x, y int) color.Color {
	if !image.Pt(x, y).In(f.Bounds()) {
		return color.RGBA{}
	}
	r, g, b := f.RGB(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Sub copies the pixels inside r into a new frame.
//
// Arguments:
//   - r: The rectangle to copy, which must lie within the frame.
//
// Returns:
//   - Frame: A frame of size r.Dx() x r.Dy() that owns its pixels.
//   - error: ErrBounds if r is not inside the frame.
func (f Frame) Sub(r image.Rectangle) (Frame, error) {
	if r.Empty() || !r.In(f.Bounds()) {
		return Frame{}, errors.Wrapf(ErrBounds, "sub %v of %v", r, f.Bounds())
	}

	out := NewFrame(r.Dx(), r.Dy())
	rowBytes := out.Stride()
	for y := 0; y < out.Height; y++ {
		src := f.offset(r.Min.X, r.Min.Y+y)
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], f.Pix[src:src+rowBytes])
	}
	return out, nil
}

// Crop keeps the top-left width x height pixels, discarding the bottom and right edges.
func (f Frame) Crop(width, height int) (Frame, error) {
	return f.Sub(image.Rect(0, 0, width, height))
}

// Paste writes src into f with its top-left corner at the given point.
//
// Arguments:
//   - src: The frame to copy from.
//   - at: The destination of src's top-left pixel.
//
// Returns:
//   - error: ErrBounds if src does not fit entirely inside f at that point.
func (f Frame) Paste(src Frame, at image.Point) error {
	dst := src.Bounds().Add(at)
	if !dst.In(f.Bounds()) {
		return errors.Wrapf(ErrBounds, "paste %v into %v", dst, f.Bounds())
	}

	rowBytes := src.Stride()
	for y := 0; y < src.Height; y++ {
		o := f.offset(at.X, at.Y+y)
		copy(f.Pix[o:o+rowBytes], src.Pix[y*rowBytes:(y+1)*rowBytes])
	}
	return nil
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	out := Frame{Width: f.Width, Height: f.Height, Pix: make([]uint8, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

// Equal reports whether both frames have the same size and pixels.
func (f Frame) Equal(o Frame) bool {
	if f.Width != o.Width || f.Height != o.Height || len(f.Pix) != len(o.Pix) {
		return false
	}
	for i := range f.Pix {
		if f.Pix[i] != o.Pix[i] {
			return false
		}
	}
	return true
}

// FromImage converts any image into an RGB frame, dropping alpha.
//
// Arguments:
//   - img: The source image. Its bounds origin is moved to (0, 0).
//
// Returns:
//   - Frame: The converted frame.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	out := NewFrame(b.Dx(), b.Dy())

	switch src := img.(type) {
	case Frame:
		return src.Clone()
	case *image.RGBA:
		for y := 0; y < out.Height; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride:]
			for x := 0; x < out.Width; x++ {
				s := (x + b.Min.X - src.Rect.Min.X) * 4
				out.SetRGB(x, y, row[s], row[s+1], row[s+2])
			}
		}
	case *image.NRGBA:
		for y := 0; y < out.Height; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride:]
			for x := 0; x < out.Width; x++ {
				s := (x + b.Min.X - src.Rect.Min.X) * 4
				out.SetRGB(x, y, row[s], row[s+1], row[s+2])
			}
		}
	default:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				out.SetRGB(x, y, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			}
		}
	}
	return out
}

// ToRGBA converts the frame into an opaque *image.RGBA.
func (f Frame) ToRGBA() *image.RGBA {
	out := image.NewRGBA(f.Bounds())
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b := f.RGB(x, y)
			o := out.PixOffset(x, y)
			out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = r, g, b, 0xff
		}
	}
	return out
}
