package aggregate

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

// patterned returns a frame with distinct pixel values everywhere.
func patterned(w, h int) images.Frame {
	f := images.NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.SetRGB(x, y, uint8(3*x+y), uint8(x+5*y), uint8(x*y))
		}
	}
	return f
}

func extract(t *testing.T, f images.Frame, size int) tiles.Grid {
	t.Helper()
	grid, err := tiles.Extract(f, size)
	require.NoError(t, err)
	return grid
}

func fullMask(w, h int) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for i := range m.Pix {
		m.Pix[i] = 255
	}
	return m
}

func TestReduceClassification(t *testing.T) {
	frame := patterned(8, 4)
	grid := extract(t, frame, 4)
	md := models.Metadata{TileSize: 4, Classes: []string{"A", "B"}}
	batch := inference.Batch{
		Kind:            models.KindClassifier,
		Classifications: [][]float32{{0.9, 0.1}, {0.7, 0.3}},
	}

	res, err := Reduce(frame, grid, batch, md, inference.Config{})
	require.NoError(t, err)
	assert.Equal(t, "A: 0.8000\nB: 0.2000\n", res.Summary)
	assert.True(t, frame.Equal(res.Composite))

	res, err = Reduce(frame, grid, batch, md, inference.Config{MinConf: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "A: 0.8000\n", res.Summary)
}

func TestReduceClassificationSingleTile(t *testing.T) {
	frame := patterned(3, 3)
	grid := extract(t, frame, 224)
	md := models.Metadata{TileSize: 224, Classes: []string{"x", "y", "z", "w"}}
	batch := inference.Batch{
		Kind:            models.KindClassifier,
		Classifications: [][]float32{{0.1, 0.4, 0.3, 0.2}},
	}

	res, err := Reduce(frame, grid, batch, md, inference.Config{})
	require.NoError(t, err)
	assert.Equal(t, "y: 0.4000\nz: 0.3000\nw: 0.2000\n", res.Summary)
}

func TestRankTiesKeepClassOrder(t *testing.T) {
	ranked := Rank([]float32{0.25, 0.5, 0.25, 0.5}, []string{"a", "b", "c", "d"}, 0)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"b", "d", "a"}, []string{ranked[0].Class, ranked[1].Class, ranked[2].Class})
}

func TestRankFewerClassesThanTopK(t *testing.T) {
	ranked := Rank([]float32{0.4}, []string{"only"}, 0)
	assert.Equal(t, []Ranked{{Class: "only", Confidence: 0.4}}, ranked)
}

func TestReduceSegmentation(t *testing.T) {
	frame := patterned(8, 4)
	grid := extract(t, frame, 4)
	batch := inference.Batch{
		Kind: models.KindSegmenter,
		Segmentations: [][]inference.Instance{
			{{Class: models.ClassPositive, Score: 0.9, Box: image.Rect(0, 0, 4, 4), Mask: fullMask(4, 4)}},
			nil,
		},
	}
	md := models.Metadata{TileSize: 4, Classes: []string{"positive", "negative", "misc"}}

	res, err := Reduce(frame, grid, batch, md, inference.Config{})
	require.NoError(t, err)
	assert.Equal(t, "(+) 100.00 %\n(+) cells: 1\n(-) cells: 0\n", res.Summary)

	// Tile 1 is untouched.
	got, err := res.Composite.Sub(grid.Tiles[1].Bounds)
	require.NoError(t, err)
	assert.True(t, grid.Tiles[1].Frame.Equal(got))

	// Tile 0 is tinted towards red.
	r0, _, b0 := frame.RGB(1, 1)
	r1, _, b1 := res.Composite.RGB(1, 1)
	assert.Equal(t, uint8((float64(r0)+255)/2), r1)
	assert.Equal(t, uint8(float64(b0)/2), b1)

	// The input frame is not modified.
	assert.True(t, patterned(8, 4).Equal(frame))
}

func TestReduceSegmentationNoInstances(t *testing.T) {
	frame := patterned(8, 4)
	grid := extract(t, frame, 4)
	batch := inference.Batch{Kind: models.KindSegmenter, Segmentations: make([][]inference.Instance, 2)}

	res, err := Reduce(frame, grid, batch, models.Metadata{TileSize: 4, Classes: []string{"p"}}, inference.Config{})
	require.NoError(t, err)
	assert.Equal(t, "(+) 0.00 %\n(+) cells: 0\n(-) cells: 0\n", res.Summary)
	assert.True(t, frame.Equal(res.Composite))
}

func TestCounts(t *testing.T) {
	c := Counts{Positive: 1, Negative: 3}
	assert.InDelta(t, 25.0, c.Percentage(), 1e-9)
	assert.Equal(t, "(+) 25.00 %\n(+) cells: 1\n(-) cells: 3\n", c.String())
}

func TestReduceCropsCompositeToGrid(t *testing.T) {
	frame := patterned(10, 5)
	grid := extract(t, frame, 4)
	batch := inference.Batch{Kind: models.KindClassifier, Classifications: [][]float32{{1}, {1}}}

	res, err := Reduce(frame, grid, batch, models.Metadata{TileSize: 4, Classes: []string{"a"}}, inference.Config{})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Composite.Width)
	assert.Equal(t, 4, res.Composite.Height)
}

func TestReduceContractViolations(t *testing.T) {
	frame := patterned(8, 4)
	grid := extract(t, frame, 4)
	md := models.Metadata{TileSize: 4, Classes: []string{"A", "B"}}

	tests := []struct {
		name  string
		batch inference.Batch
	}{
		{name: "too few rows", batch: inference.Batch{Kind: models.KindClassifier, Classifications: [][]float32{{0.5, 0.5}}}},
		{name: "wrong class count", batch: inference.Batch{Kind: models.KindClassifier, Classifications: [][]float32{{1}, {1}}}},
		{name: "unknown kind", batch: inference.Batch{Kind: "detector", Classifications: [][]float32{{1, 0}, {1, 0}}}},
		{name: "mask size", batch: inference.Batch{Kind: models.KindSegmenter, Segmentations: [][]inference.Instance{
			{{Class: 0, Mask: fullMask(2, 2)}}, nil,
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reduce(frame, grid, tt.batch, md, inference.Config{})
			assert.ErrorIs(t, err, inference.ErrContractViolation)
		})
	}
}

func TestClassColor(t *testing.T) {
	assert.Equal(t, uint8(255), ClassColor(0).R)
	assert.Equal(t, uint8(255), ClassColor(1).B)
	assert.Equal(t, uint8(255), ClassColor(2).G)
	assert.Equal(t, ClassColor(7), ClassColor(9))
}
