package aggregate

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

// Counts tallies positive and negative instances across the frame.
type Counts struct {
	Positive int
	Negative int
}

// Percentage is the share of positive among positive and negative instances, 0 when
// there are none.
func (c Counts) Percentage() float64 {
	total := c.Positive + c.Negative
	if total == 0 {
		return 0
	}
	return float64(c.Positive) / float64(total) * 100
}

// String renders the counts as the segmentation summary.
func (c Counts) String() string {
	return fmt.Sprintf("(+) %.2f %%\n(+) cells: %d\n(-) cells: %d\n", c.Percentage(), c.Positive, c.Negative)
}

// Segmentation paints every tile with at least one instance into composite and counts
// instances by class. Tiles without instances are left untouched.
//
// Arguments:
//   - composite: The frame cropped to the grid bounds. It is modified in place.
//   - grid: The tiles the instances were predicted on.
//   - instances: One slice of instances per tile, in grid order.
//
// Returns:
//   - Counts: Positive and negative instance totals.
//   - error: inference.ErrContractViolation when the instances do not fit the grid.
func Segmentation(composite images.Frame, grid tiles.Grid, instances [][]inference.Instance) (Counts, error) {
	var counts Counts
	if len(instances) != grid.Len() {
		return counts, errors.Wrapf(inference.ErrContractViolation,
			"%d instance lists for %d tiles", len(instances), grid.Len())
	}

	for k, found := range instances {
		for _, inst := range found {
			switch inst.Class {
			case models.ClassPositive:
				counts.Positive++
			case models.ClassNegative:
				counts.Negative++
			}
		}
		if len(found) == 0 {
			continue
		}

		tile := grid.Tiles[k]
		annotated, err := Overlay(tile.Frame, found)
		if err != nil {
			return counts, errors.Wrapf(err, "tile %d", k)
		}
		if err := composite.Paste(annotated, tile.Bounds.Min); err != nil {
			return counts, errors.Wrapf(err, "tile %d", k)
		}
	}
	return counts, nil
}
