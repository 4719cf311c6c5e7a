// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-tileinfer/images"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result, in model input pixels.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
	// Coefficients weight the mask prototypes for this detection. Empty for plain
	// detectors.
	Coefficients []float32
}

// SortByScore orders detections by descending score. Ties keep their original order.
func SortByScore(detections []Result) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
}
