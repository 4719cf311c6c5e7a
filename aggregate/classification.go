package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/inference"
)

// TopK is the number of classes reported.
const TopK = 3

// Ranked is one class with its frame-level confidence.
type Ranked struct {
	Class      string
	Confidence float32
}

// Mean averages the per-tile confidence vectors element-wise.
func Mean(rows [][]float32, classes int) ([]float32, error) {
	if len(rows) == 0 {
		return nil, errors.Wrap(inference.ErrContractViolation, "no tiles to average")
	}
	mean := make([]float32, classes)
	for k, row := range rows {
		if len(row) != classes {
			return nil, errors.Wrapf(inference.ErrContractViolation,
				"tile %d has %d scores for %d classes", k, len(row), classes)
		}
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float32(len(rows))
	}
	return mean, nil
}

// Rank orders the averaged confidences descending and keeps at most TopK. Ties keep class
// order. The list stops at the first class below minConf.
func Rank(mean []float32, classes []string, minConf float32) []Ranked {
	idx := make([]int, len(mean))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return mean[idx[a]] > mean[idx[b]]
	})

	ranked := make([]Ranked, 0, TopK)
	for _, i := range idx[:min(TopK, len(idx))] {
		if mean[i] < minConf {
			break
		}
		ranked = append(ranked, Ranked{Class: classes[i], Confidence: mean[i]})
	}
	return ranked
}

// Classification renders the ranked classes, one "<class>: <confidence>" line each.
func Classification(rows [][]float32, classes []string, minConf float32) (string, error) {
	mean, err := Mean(rows, len(classes))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, r := range Rank(mean, classes, minConf) {
		fmt.Fprintf(&b, "%s: %.4f\n", r.Class, r.Confidence)
	}
	return b.String(), nil
}
