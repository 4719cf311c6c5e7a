package inference

import (
	"image"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

// Layout is the dimension order of the batch tensor.
type Layout string

const (
	// LayoutNHWC is [batch, height, width, channels], the Keras default.
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is [batch, channels, height, width], the PyTorch default.
	LayoutNCHW Layout = "nchw"
)

// ParseLayout maps a registry spelling onto a Layout. Empty means NHWC.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutNHWC:
		return LayoutNHWC, nil
	case LayoutNCHW:
		return LayoutNCHW, nil
	default:
		return "", errors.Errorf("unsupported tensor layout %q", s)
	}
}

// inputSize returns the spatial size the model wants. Dimensions the model leaves
// dynamic fall back to the tile size.
func inputSize(layout Layout, shape []int, tileW, tileH int) image.Point {
	size := image.Pt(tileW, tileH)
	if len(shape) != 4 {
		return size
	}
	h, w := shape[1], shape[2]
	if layout == LayoutNCHW {
		h, w = shape[2], shape[3]
	}
	if w > 0 {
		size.X = w
	}
	if h > 0 {
		size.Y = h
	}
	return size
}

// PrepareInput packs every tile of the grid into one float32 batch tensor scaled to [0, 1].
//
// When the model has fixed spatial dimensions that differ from the tile, each tile is
// resized with bilinear interpolation first.
//
// Arguments:
//   - grid: The tiles to pack, in grid order.
//   - layout: The dimension order the model expects.
//   - shape: The model's input shape as reported by the runtime.
//
// Returns:
//   - *tensor.Dense: The batch tensor, shape [N, H, W, 3] or [N, 3, H, W].
//   - image.Point: The spatial size (width, height) the tiles were packed at.
//   - error: An error if the grid is empty.
func PrepareInput(grid tiles.Grid, layout Layout, shape []int) (*tensor.Dense, image.Point, error) {
	n := grid.Len()
	if n == 0 {
		return nil, image.Point{}, errors.New("grid has no tiles")
	}

	size := inputSize(layout, shape, grid.TileWidth, grid.TileHeight)
	w, h := size.X, size.Y
	plane := w * h
	data := make([]float32, n*plane*3)

	for k, tile := range grid.Tiles {
		frame := tile.Frame
		if frame.Width != w || frame.Height != h {
			frame = images.FromImage(resize.Resize(uint(w), uint(h), frame, resize.Bilinear))
		}

		base := k * plane * 3
		i := 0
		for p := 0; p < plane; p++ {
			r := float32(frame.Pix[i]) / 255.0
			g := float32(frame.Pix[i+1]) / 255.0
			b := float32(frame.Pix[i+2]) / 255.0
			i += images.BytesPerPixel

			if layout == LayoutNCHW {
				data[base+p] = r
				data[base+plane+p] = g
				data[base+2*plane+p] = b
			} else {
				data[base+p*3] = r
				data[base+p*3+1] = g
				data[base+p*3+2] = b
			}
		}
	}

	dims := []int{n, h, w, 3}
	if layout == LayoutNCHW {
		dims = []int{n, 3, h, w}
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data)), size, nil
}
