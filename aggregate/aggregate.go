// Package aggregate - Reduction of per-tile predictions into one frame-level result.
package aggregate

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

// Result is what one capture cycle hands to the presentation layer.
type Result struct {
	// Composite is the frame cropped to the grid, annotated where the model found something.
	Composite images.Frame
	// Summary is human readable text, one fact per line.
	Summary string
}

// Reduce turns a batch of per-tile predictions into a composite image and summary.
//
// It is pure: the frame, grid and batch are never modified.
//
// Arguments:
//   - frame: The captured frame the grid was extracted from.
//   - grid: The tiles, in the order the batch was predicted.
//   - batch: One prediction per tile.
//   - md: The model metadata; classes name classifier columns.
//   - cfg: Session options; MinConf truncates the classifier ranking.
//
// Returns:
//   - Result: The composite and summary.
//   - error: inference.ErrContractViolation when the batch does not line up with the grid
//     or metadata.
func Reduce(frame images.Frame, grid tiles.Grid, batch inference.Batch, md models.Metadata, cfg inference.Config) (Result, error) {
	if batch.Len() != grid.Len() {
		return Result{}, errors.Wrapf(inference.ErrContractViolation,
			"batch has %d predictions for %d tiles", batch.Len(), grid.Len())
	}

	bounds := grid.Bounds()
	composite, err := frame.Crop(bounds.Dx(), bounds.Dy())
	if err != nil {
		return Result{}, errors.Wrap(err, "crop frame to grid")
	}

	switch batch.Kind {
	case models.KindClassifier:
		summary, err := Classification(batch.Classifications, md.Classes, cfg.MinConf)
		if err != nil {
			return Result{}, err
		}
		return Result{Composite: composite, Summary: summary}, nil
	case models.KindSegmenter:
		counts, err := Segmentation(composite, grid, batch.Segmentations)
		if err != nil {
			return Result{}, err
		}
		return Result{Composite: composite, Summary: counts.String()}, nil
	default:
		return Result{}, errors.Wrapf(inference.ErrContractViolation, "unknown batch kind %q", batch.Kind)
	}
}
