package inference

import (
	"context"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

// Classifier scores every tile against the model's class list.
type Classifier struct {
	runtime Runtime
	layout  Layout
	logger  *zap.SugaredLogger
}

// NewClassifier wraps a runtime whose first output is [N, classes].
func NewClassifier(rt Runtime, layout Layout, logger *zap.SugaredLogger) *Classifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Classifier{runtime: rt, layout: layout, logger: logger}
}

// Kind implements Backend.
func (c *Classifier) Kind() models.Kind {
	return models.KindClassifier
}

// Predict implements Backend. Row k of the result holds tile k's confidence for every
// class, in metadata class order.
func (c *Classifier) Predict(ctx context.Context, grid tiles.Grid, md models.Metadata, _ Config) (Batch, error) {
	input, _, err := PrepareInput(grid, c.layout, c.runtime.InputShape())
	if err != nil {
		return Batch{}, err
	}

	outputs, err := c.runtime.Run(ctx, input)
	if err != nil {
		return Batch{}, backendErr(err, "run classifier")
	}
	if len(outputs) == 0 {
		return Batch{}, contractf("classifier returned no outputs")
	}

	out := outputs[0]
	shape := out.Shape()
	n, classes := grid.Len(), len(md.Classes)
	if len(shape) != 2 {
		return Batch{}, contractf("classifier output has shape %v, want [%d %d]", shape, n, classes)
	}
	if shape[0] != n {
		return Batch{}, contractf("classifier returned %d rows for %d tiles", shape[0], n)
	}
	if shape[1] != classes {
		return Batch{}, contractf("classifier returned %d scores for %d classes", shape[1], classes)
	}

	data, ok := float32s(out)
	if !ok {
		return Batch{}, contractf("classifier output is %v, want float32", out.Dtype())
	}

	rows := make([][]float32, n)
	for k := range rows {
		rows[k] = append([]float32(nil), data[k*classes:(k+1)*classes]...)
	}

	c.logger.Debugw("classified tiles", "tiles", n, "classes", classes)
	return Batch{Kind: models.KindClassifier, Classifications: rows}, nil
}

// Close implements Backend.
func (c *Classifier) Close() error {
	return c.runtime.Close()
}
