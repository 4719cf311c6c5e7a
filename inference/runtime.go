package inference

import (
	"context"

	"gorgonia.org/tensor"
)

// Runtime names accepted in registry entries.
const (
	RuntimeONNX   = "onnx"
	RuntimeOpenCV = "opencv"
)

// Runtime executes a loaded model on a float32 batch tensor.
type Runtime interface {
	// Run feeds input to the model's first input and returns every output in model order.
	Run(ctx context.Context, input *tensor.Dense) ([]*tensor.Dense, error)
	// InputShape is the model's first input shape. Dynamic dimensions are reported as -1
	// and an unknown shape as nil.
	InputShape() []int
	// Close releases native resources.
	Close() error
}

// float32s returns the backing slice of a float32 tensor.
func float32s(t *tensor.Dense) ([]float32, bool) {
	data, ok := t.Data().([]float32)
	return data, ok
}
