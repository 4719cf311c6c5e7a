// Package tiles - Partitioning of captured frames into model-sized tiles.
package tiles

import (
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/images"
)

var (
	// ErrInvalidFrame is returned when the frame to tile has no pixels.
	ErrInvalidFrame = errors.New("frame has no pixels")
	// ErrInvalidTileSize is returned when the tile size is not positive.
	ErrInvalidTileSize = errors.New("tile size must be positive")
)

// Tile is one cell of a Grid.
type Tile struct {
	// Index is the row-major position of the tile, Row*Cols + Col.
	Index int
	// Row is the grid row, counted from the top.
	Row int
	// Col is the grid column, counted from the left.
	Col int
	// Bounds is the tile's rectangle in frame coordinates.
	Bounds image.Rectangle
	// Frame holds a copy of the tile's pixels.
	Frame images.Frame
}

// Grid is the ordered sequence of tiles extracted from one frame.
type Grid struct {
	// TileWidth is the uniform width of every tile.
	TileWidth int
	// TileHeight is the uniform height of every tile.
	TileHeight int
	// Rows is the number of tile rows.
	Rows int
	// Cols is the number of tile columns.
	Cols int
	// Tiles are stored in row-major order.
	Tiles []Tile
}

// Len returns the number of tiles in the grid.
func (g Grid) Len() int {
	return len(g.Tiles)
}

// Bounds is the part of the source frame covered by the grid. Anything to the
// right or below it was dropped during extraction.
func (g Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Cols*g.TileWidth, g.Rows*g.TileHeight)
}

// Position maps a row-major tile index back to its grid coordinates.
func (g Grid) Position(k int) (row, col int) {
	return k / g.Cols, k % g.Cols
}

// Extract partitions a frame into a grid of tiles of the model's trained size.
//
// The tile height is tileSize, or the frame height if the frame is shorter; the tile
// width is clamped the same way. Frames smaller than a tile are therefore never padded
// or upsampled: the whole frame becomes a single tile. The frame is cropped on its
// bottom and right edges to the largest multiple of the tile dimensions before slicing.
//
// Tiles are ordered row-major: tile k sits at grid position (k / Cols, k % Cols). Every
// consumer that maps predictions back onto the frame relies on this ordering.
//
// Arguments:
//   - frame: The captured frame.
//   - tileSize: The model's trained input edge length in pixels.
//
// Returns:
//   - Grid: The extracted tiles. Extraction is pure and deterministic.
//   - error: ErrInvalidFrame or ErrInvalidTileSize.
func Extract(frame images.Frame, tileSize int) (Grid, error) {
	if frame.Empty() {
		return Grid{}, ErrInvalidFrame
	}
	if tileSize <= 0 {
		return Grid{}, errors.Wrapf(ErrInvalidTileSize, "got %d", tileSize)
	}

	grid := Grid{
		TileWidth:  min(tileSize, frame.Width),
		TileHeight: min(tileSize, frame.Height),
	}
	grid.Rows = frame.Height / grid.TileHeight
	grid.Cols = frame.Width / grid.TileWidth
	grid.Tiles = make([]Tile, 0, grid.Rows*grid.Cols)

	for i := 0; i < grid.Rows; i++ {
		for j := 0; j < grid.Cols; j++ {
			bounds := image.Rect(
				j*grid.TileWidth,
				i*grid.TileHeight,
				(j+1)*grid.TileWidth,
				(i+1)*grid.TileHeight,
			)
			pixels, err := frame.Sub(bounds)
			if err != nil {
				return Grid{}, err
			}
			grid.Tiles = append(grid.Tiles, Tile{
				Index:  i*grid.Cols + j,
				Row:    i,
				Col:    j,
				Bounds: bounds,
				Frame:  pixels,
			})
		}
	}

	return grid, nil
}
