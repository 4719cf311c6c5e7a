package inference

import (
	"context"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// OpenCVRuntime runs an ONNX model through the OpenCV DNN module. It needs no ONNX
// Runtime library but only accepts NCHW input.
type OpenCVRuntime struct {
	mu      sync.Mutex
	net     gocv.Net
	outputs []string
	closed  bool
}

// NewOpenCVRuntime loads a model with gocv.ReadNetFromONNX.
func NewOpenCVRuntime(modelPath string) (*OpenCVRuntime, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load model %s", modelPath)
	}

	var names []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		names = append(names, layer.GetName())
		layer.Close()
	}
	if len(names) == 0 {
		net.Close()
		return nil, errors.Errorf("model %s has no output layers", modelPath)
	}

	return &OpenCVRuntime{net: net, outputs: names}, nil
}

// InputShape implements Runtime. OpenCV does not expose the declared input shape, so
// every dimension is treated as dynamic.
func (r *OpenCVRuntime) InputShape() []int {
	return nil
}

// Run implements Runtime.
func (r *OpenCVRuntime) Run(ctx context.Context, input *tensor.Dense) ([]*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := float32s(input)
	if !ok || len(data) == 0 {
		return nil, errors.Errorf("input tensor is %v, want non-empty float32", input.Dtype())
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
	blob, err := gocv.NewMatWithSizesFromBytes(input.Shape(), gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, errors.Wrap(err, "create input blob")
	}
	defer blob.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("runtime is closed")
	}

	r.net.SetInput(blob, "")
	outs := r.net.ForwardLayers(r.outputs)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	result := make([]*tensor.Dense, len(outs))
	for i, out := range outs {
		values, err := out.DataPtrFloat32()
		if err != nil {
			return nil, errors.Wrapf(err, "read output %q", r.outputs[i])
		}
		backing := append([]float32(nil), values...)
		result[i] = tensor.New(tensor.WithShape(out.Size()...), tensor.WithBacking(backing))
	}
	return result, nil
}

// Close implements Runtime.
func (r *OpenCVRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.net.Close()
}
