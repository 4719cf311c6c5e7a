package inference

import (
	"context"
	"image"
	"image/draw"
	"runtime"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/models/postprocess"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

// SegmenterConfig tunes how raw segmentation heads are decoded.
type SegmenterConfig struct {
	// ConfThreshold drops anchors whose best class scores below it.
	ConfThreshold float32 `mapstructure:"conf_threshold"`
	// IoUThreshold suppresses same-class boxes overlapping more than this.
	IoUThreshold float32 `mapstructure:"iou_threshold"`
	// MaxInstances caps the number of instances kept per tile.
	MaxInstances int `mapstructure:"max_instances"`
	// MaskThreshold binarises the sigmoid mask.
	MaskThreshold float32 `mapstructure:"mask_threshold"`
	// Workers bounds how many tiles are decoded in parallel.
	Workers int `mapstructure:"workers"`
}

// DefaultSegmenterConfig returns the thresholds YOLO segmentation models are usually
// exported with.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		ConfThreshold: 0.25,
		IoUThreshold:  0.7,
		MaxInstances:  300,
		MaskThreshold: 0.5,
		Workers:       runtime.NumCPU(),
	}
}

// withDefaults fills zero fields from DefaultSegmenterConfig.
func (c SegmenterConfig) withDefaults() SegmenterConfig {
	d := DefaultSegmenterConfig()
	if c.ConfThreshold <= 0 {
		c.ConfThreshold = d.ConfThreshold
	}
	if c.IoUThreshold <= 0 {
		c.IoUThreshold = d.IoUThreshold
	}
	if c.MaxInstances <= 0 {
		c.MaxInstances = d.MaxInstances
	}
	if c.MaskThreshold <= 0 {
		c.MaskThreshold = d.MaskThreshold
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	return c
}

// Segmenter decodes YOLO style segmentation heads into per-tile instances.
//
// The runtime must produce two outputs:
//   - detections [N, 4+classes+coefficients, anchors] holding cx, cy, w, h in input
//     pixels, one score per class and the mask coefficients;
//   - prototypes [N, coefficients, mask height, mask width].
type Segmenter struct {
	runtime Runtime
	layout  Layout
	config  SegmenterConfig
	logger  *zap.SugaredLogger
}

// NewSegmenter wraps a runtime producing segmentation heads.
func NewSegmenter(rt Runtime, layout Layout, cfg SegmenterConfig, logger *zap.SugaredLogger) *Segmenter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Segmenter{runtime: rt, layout: layout, config: cfg.withDefaults(), logger: logger}
}

// Kind implements Backend.
func (s *Segmenter) Kind() models.Kind {
	return models.KindSegmenter
}

// headGeometry describes one tile's slice of the model outputs.
type headGeometry struct {
	classes, coeffs, anchors int
	maskW, maskH             int
	input                    image.Point
	tileW, tileH             int
}

// Predict implements Backend.
func (s *Segmenter) Predict(ctx context.Context, grid tiles.Grid, md models.Metadata, _ Config) (Batch, error) {
	input, size, err := PrepareInput(grid, s.layout, s.runtime.InputShape())
	if err != nil {
		return Batch{}, err
	}

	outputs, err := s.runtime.Run(ctx, input)
	if err != nil {
		return Batch{}, backendErr(err, "run segmenter")
	}
	if len(outputs) < 2 {
		return Batch{}, contractf("segmenter returned %d outputs, want detections and prototypes", len(outputs))
	}

	det, protos := outputs[0], outputs[1]
	ds, ps := det.Shape(), protos.Shape()
	n := grid.Len()
	if len(ds) != 3 || len(ps) != 4 {
		return Batch{}, contractf("segmenter outputs have shapes %v and %v", ds, ps)
	}
	if ds[0] != n || ps[0] != n {
		return Batch{}, contractf("segmenter returned %d/%d results for %d tiles", ds[0], ps[0], n)
	}

	geom := headGeometry{
		classes: len(md.Classes),
		coeffs:  ps[1],
		anchors: ds[2],
		maskH:   ps[2],
		maskW:   ps[3],
		input:   size,
		tileW:   grid.TileWidth,
		tileH:   grid.TileHeight,
	}
	rows := 4 + geom.classes + geom.coeffs
	if ds[1] != rows {
		return Batch{}, contractf("segmenter detections have %d rows, want 4+%d classes+%d coefficients", ds[1], geom.classes, geom.coeffs)
	}

	detData, ok := float32s(det)
	if !ok {
		return Batch{}, contractf("segmenter detections are %v, want float32", det.Dtype())
	}
	protoData, ok := float32s(protos)
	if !ok {
		return Batch{}, contractf("segmenter prototypes are %v, want float32", protos.Dtype())
	}

	detStride := rows * geom.anchors
	protoStride := geom.coeffs * geom.maskH * geom.maskW
	results := make([][]Instance, n)

	var g errgroup.Group
	g.SetLimit(s.config.Workers)
	for k := 0; k < n; k++ {
		k := k
		g.Go(func() error {
			instances, err := s.decodeTile(
				detData[k*detStride:(k+1)*detStride],
				protoData[k*protoStride:(k+1)*protoStride],
				geom,
			)
			results[k] = instances
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}

	s.logger.Debugw("segmented tiles", "tiles", n, "anchors", geom.anchors)
	return Batch{Kind: models.KindSegmenter, Segmentations: results}, nil
}

// decodeTile turns one tile's raw head output into instances.
func (s *Segmenter) decodeTile(det, protos []float32, geom headGeometry) ([]Instance, error) {
	anchors := geom.anchors
	at := func(row, a int) float32 { return det[row*anchors+a] }

	var candidates []postprocess.Result
	for a := 0; a < anchors; a++ {
		best, class := float32(-1), -1
		for c := 0; c < geom.classes; c++ {
			if score := at(4+c, a); score > best {
				best, class = score, c
			}
		}
		if best < s.config.ConfThreshold {
			continue
		}

		cx, cy, w, h := at(0, a), at(1, a), at(2, a), at(3, a)
		coeffs := make([]float32, geom.coeffs)
		for m := range coeffs {
			coeffs[m] = at(4+geom.classes+m, a)
		}
		candidates = append(candidates, postprocess.Result{
			Box:          images.Rect{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2},
			Score:        best,
			Class:        class,
			Coefficients: coeffs,
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	postprocess.SortByScore(candidates)
	kept := postprocess.ApplyGreedyNMS(candidates, &postprocess.NMSConfig{
		IoUThreshold: s.config.IoUThreshold,
		ClassAware:   true,
		MaxResults:   s.config.MaxInstances,
	})

	logits, err := maskLogits(kept, protos, geom)
	if err != nil {
		return nil, err
	}

	plane := geom.maskW * geom.maskH
	tileBounds := image.Rect(0, 0, geom.tileW, geom.tileH)
	toTile := func(r images.Rect) image.Rectangle {
		return r.Scale(
			float32(geom.tileW)/float32(geom.input.X),
			float32(geom.tileH)/float32(geom.input.Y),
		).Rectangle(tileBounds)
	}

	instances := make([]Instance, 0, len(kept))
	for i, d := range kept {
		box := toTile(d.Box)
		if box.Empty() {
			continue
		}
		mask := s.buildMask(logits[i*plane:(i+1)*plane], d.Box, box, geom)
		instances = append(instances, Instance{Class: d.Class, Score: d.Score, Box: box, Mask: mask})
	}
	return instances, nil
}

// maskLogits multiplies each kept detection's coefficients with the prototypes, giving
// one row of mask logits per detection.
func maskLogits(kept []postprocess.Result, protos []float32, geom headGeometry) ([]float32, error) {
	coeffs := make([]float32, 0, len(kept)*geom.coeffs)
	for _, d := range kept {
		coeffs = append(coeffs, d.Coefficients...)
	}

	a := tensor.New(tensor.WithShape(len(kept), geom.coeffs), tensor.WithBacking(coeffs))
	b := tensor.New(tensor.WithShape(geom.coeffs, geom.maskH*geom.maskW), tensor.WithBacking(protos))
	product, err := a.MatMul(b)
	if err != nil {
		return nil, contractf("mask projection: %v", err)
	}
	data, ok := float32s(product)
	if !ok {
		return nil, contractf("mask projection produced %v", product.Dtype())
	}
	return data, nil
}

// buildMask turns a row of logits into a binary tile-sized mask. The soft mask is
// cropped to the box in prototype space, upsampled to the tile and binarised inside the
// box in tile space.
func (s *Segmenter) buildMask(logits []float32, inputBox images.Rect, tileBox image.Rectangle, geom headGeometry) *image.Gray {
	protoBounds := image.Rect(0, 0, geom.maskW, geom.maskH)
	protoBox := inputBox.Scale(
		float32(geom.maskW)/float32(geom.input.X),
		float32(geom.maskH)/float32(geom.input.Y),
	).Rectangle(protoBounds)

	soft := image.NewGray(protoBounds)
	for y := protoBox.Min.Y; y < protoBox.Max.Y; y++ {
		for x := protoBox.Min.X; x < protoBox.Max.X; x++ {
			v := sigmoid(logits[y*geom.maskW+x])
			soft.Pix[y*soft.Stride+x] = uint8(v*255 + 0.5)
		}
	}

	up := toGray(resize.Resize(uint(geom.tileW), uint(geom.tileH), soft, resize.Bilinear))
	threshold := uint8(s.config.MaskThreshold * 255)

	mask := image.NewGray(image.Rect(0, 0, geom.tileW, geom.tileH))
	for y := tileBox.Min.Y; y < tileBox.Max.Y; y++ {
		for x := tileBox.Min.X; x < tileBox.Max.X; x++ {
			if up.Pix[(y-up.Rect.Min.Y)*up.Stride+(x-up.Rect.Min.X)] > threshold {
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}
	return mask
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// toGray returns img as *image.Gray, converting only when needed.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g
}

// Close implements Backend.
func (s *Segmenter) Close() error {
	return s.runtime.Close()
}
