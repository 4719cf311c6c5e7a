package inference

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tileinfer/inference/providers"
)

// ONNXRuntime runs a model through ONNX Runtime.
//
// Input and output names are discovered from the model file, and the session is dynamic
// so the batch size can change with every frame.
type ONNXRuntime struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputs    []string
	inputShape []int
}

// NewONNXRuntime loads a model with the configured execution provider.
//
// Arguments:
//   - modelPath: The .onnx file.
//   - cfg: Execution provider and threading configuration.
//
// Returns:
//   - *ONNXRuntime: The runtime. The caller must Close it.
//   - error: An error if the environment, the provider or the model fails to load.
func NewONNXRuntime(modelPath string, cfg providers.Config) (*ONNXRuntime, error) {
	if err := providers.InitializeEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect model %s", modelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("model %s declares no inputs or outputs", modelPath)
	}

	provider, err := providers.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	options, err := providers.NewSessionOptions(provider, cfg)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	outputNames := make([]string, len(outputs))
	for i, o := range outputs {
		outputNames[i] = o.Name
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputs[0].Name}, outputNames, options)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	shape := make([]int, len(inputs[0].Dimensions))
	for i, d := range inputs[0].Dimensions {
		shape[i] = int(d)
	}

	return &ONNXRuntime{
		session:    session,
		inputName:  inputs[0].Name,
		outputs:    outputNames,
		inputShape: shape,
	}, nil
}

// InputShape implements Runtime.
func (r *ONNXRuntime) InputShape() []int {
	return append([]int(nil), r.inputShape...)
}

// Run implements Runtime. Outputs are copied out of native memory before returning.
func (r *ONNXRuntime) Run(ctx context.Context, input *tensor.Dense) ([]*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := float32s(input)
	if !ok {
		return nil, errors.Errorf("input tensor is %v, want float32", input.Dtype())
	}

	dims := input.Shape()
	shape := make(ort.Shape, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	in, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	defer in.Destroy()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, errors.New("runtime is closed")
	}

	// Nil outputs are allocated by the session and must be destroyed here.
	outs := make([]ort.Value, len(r.outputs))
	if err := r.session.Run([]ort.Value{in}, outs); err != nil {
		return nil, errors.Wrap(err, "run session")
	}
	defer func() {
		for _, o := range outs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	result := make([]*tensor.Dense, len(outs))
	for i, o := range outs {
		t, ok := o.(*ort.Tensor[float32])
		if !ok {
			return nil, errors.Errorf("output %q is not a float32 tensor", r.outputs[i])
		}
		outShape := t.GetShape()
		dims := make([]int, len(outShape))
		for j, d := range outShape {
			dims[j] = int(d)
		}
		backing := append([]float32(nil), t.GetData()...)
		result[i] = tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
	}
	return result, nil
}

// Close implements Runtime.
func (r *ONNXRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.session != nil {
		err = multierr.Append(err, r.session.Destroy())
		r.session = nil
	}
	return err
}
