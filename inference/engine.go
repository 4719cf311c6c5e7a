// Package inference - Inference backends that turn a grid of tiles into per-tile predictions.
package inference

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/inference/providers"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

var (
	// ErrContractViolation is returned when a model's output does not line up with the
	// grid or metadata it was given. It is never recoverable.
	ErrContractViolation = errors.New("contract violation")
	// ErrBackend is returned when the underlying runtime fails.
	ErrBackend = errors.New("backend failure")
)

// contractf builds an ErrContractViolation with context.
func contractf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrContractViolation, format, args...)
}

// backendErr marks a runtime failure as ErrBackend while keeping the cause reachable.
func backendErr(err error, op string) error {
	return fmt.Errorf("%w: %s: %w", ErrBackend, op, err)
}

// Backend is the capability every model variant implements.
//
// The rest of the pipeline only looks at Kind; the concrete model type never leaks out of
// this package.
type Backend interface {
	// Kind reports which variant of Batch Predict returns.
	Kind() models.Kind
	// Predict submits the whole grid as one batch and returns one result per tile, in
	// grid order.
	Predict(ctx context.Context, grid tiles.Grid, md models.Metadata, cfg Config) (Batch, error)
	// Close releases the runtime.
	Close() error
}

// Config holds per-session options.
type Config struct {
	// MinConf stops the classifier ranking at the first class below it.
	MinConf float32
}

// ParseMinConf coerces a loosely typed option into a confidence threshold. Missing,
// non-numeric, NaN and infinite values all yield 0; it never fails.
func ParseMinConf(v interface{}) float32 {
	if v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat32E(v)
	if err != nil || math32.IsNaN(f) || math32.IsInf(f, 0) {
		return 0
	}
	return f
}

// NewConfig builds a session config from free-form options.
func NewConfig(options map[string]interface{}) Config {
	return Config{MinConf: ParseMinConf(options["min_conf"])}
}

// Instance is one segmented object inside a tile.
type Instance struct {
	// Class is the index into the model's class list.
	Class int
	// Score is the detection confidence.
	Score float32
	// Box is the object's bounds in tile coordinates.
	Box image.Rectangle
	// Mask is tile-sized; 255 marks pixels belonging to the object.
	Mask *image.Gray
}

// Batch is the result of one Predict call. Exactly one of the slices is populated,
// selected by Kind, with one entry per tile in grid order.
type Batch struct {
	Kind            models.Kind
	Classifications [][]float32
	Segmentations   [][]Instance
}

// Len returns the number of tiles the batch covers.
func (b Batch) Len() int {
	if b.Kind == models.KindSegmenter {
		return len(b.Segmentations)
	}
	return len(b.Classifications)
}

// Options configure backend construction.
type Options struct {
	// ModelPath is the resolved artifact to load.
	ModelPath string
	// Provider selects the ONNX Runtime execution provider.
	Provider providers.Config
	// Segmenter tunes segmentation post-processing.
	Segmenter SegmenterConfig
	// Runtime, when set, is used instead of opening ModelPath.
	Runtime Runtime
	// Logger receives backend diagnostics. Nil disables logging.
	Logger *zap.SugaredLogger
}

// NewBackend is the single place a registry entry is turned into a concrete backend.
//
// Arguments:
//   - entry: The registry entry. Kind picks the variant, Runtime the engine and Layout the
//     input tensor layout.
//   - opts: Construction options.
//
// Returns:
//   - Backend: The ready backend. The caller must Close it.
//   - error: An error if the entry is invalid or the runtime cannot be opened.
func NewBackend(entry models.Entry, opts Options) (Backend, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	layout, err := ParseLayout(entry.Layout)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.With("model", entry.Name, "kind", entry.Kind)

	rt := opts.Runtime
	if rt == nil {
		switch strings.ToLower(entry.Runtime) {
		case "", RuntimeONNX:
			rt, err = NewONNXRuntime(opts.ModelPath, opts.Provider)
		case RuntimeOpenCV:
			if layout != LayoutNCHW {
				return nil, errors.Errorf("model %q: the opencv runtime only accepts nchw input", entry.Name)
			}
			rt, err = NewOpenCVRuntime(opts.ModelPath)
		default:
			return nil, errors.Errorf("model %q: unsupported runtime %q", entry.Name, entry.Runtime)
		}
		if err != nil {
			return nil, err
		}
	}

	logger.Infow("backend ready", "runtime", entry.Runtime, "layout", layout, "input_shape", rt.InputShape())

	switch entry.Kind {
	case models.KindClassifier:
		return NewClassifier(rt, layout, logger), nil
	case models.KindSegmenter:
		return NewSegmenter(rt, layout, opts.Segmenter, logger), nil
	default:
		rt.Close()
		return nil, errors.Errorf("model %q: unsupported kind %q", entry.Name, entry.Kind)
	}
}
