package models

import (
	"fmt"
	"strings"
)

// Segmentation label indices shared by every segmenter in the catalog.
const (
	// ClassPositive marks positively stained cells.
	ClassPositive = 0
	// ClassNegative marks negatively stained cells.
	ClassNegative = 1
	// ClassMisc marks anything else the segmenter found.
	ClassMisc = 2
)

// ClassName returns the label for idx, or a placeholder when the model's label list is
// shorter than its output.
func (m Metadata) ClassName(idx int) string {
	if idx < 0 || idx >= len(m.Classes) {
		return fmt.Sprintf("class_%d", idx)
	}
	return m.Classes[idx]
}

// ClassIndex returns the index of the named label, or -1.
func (m Metadata) ClassIndex(name string) int {
	for i, c := range m.Classes {
		if c == name {
			return i
		}
	}
	return -1
}

// Recommendation explains how the capture size relates to the model's trained tile
// size so users can pick a sensible region.
func Recommendation(tileSize int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This model was trained on images of size %d x %d (px) with 20X magnification.\n", tileSize, tileSize)
	b.WriteString("Choosing a screen capture size smaller than these dimensions may result in inaccurate results.\n")
	b.WriteString("Larger screen capture sizes will be sliced into smaller images and predictions aggregated.")
	return b.String()
}
