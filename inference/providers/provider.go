// Package providers - Provider interface for execution providers.
package providers

import (
	"strings"

	"github.com/pkg/errors"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	Backend() ProviderBackend
	Options() ProviderOptions
}

// Config selects and tunes the execution provider used by ONNX sessions.
type Config struct {
	// Backend is one of cpu, cuda, coreml or openvino. Empty means cpu.
	Backend string `mapstructure:"backend"`
	// LibraryPath overrides the platform default onnxruntime shared library.
	LibraryPath string `mapstructure:"library_path"`
	// IntraOpThreads bounds parallelism inside a node. Zero lets the runtime decide.
	IntraOpThreads int `mapstructure:"intra_op_threads"`
	// InterOpThreads bounds parallelism across independent nodes. Zero lets the runtime decide.
	InterOpThreads int `mapstructure:"inter_op_threads"`

	CUDA     CUDAOptions     `mapstructure:"cuda"`
	CoreML   CoreMLOptions   `mapstructure:"coreml"`
	OpenVINO OpenVINOOptions `mapstructure:"openvino"`
}

// NewProvider creates a new provider based on the required backend.
//
// Arguments:
//   - options: The options for the provider. Their type selects the backend.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: An error if the provider creation fails.
func NewProvider(options ProviderOptions) (ExecutionProvider, error) {
	switch opts := options.(type) {
	case CPUOptions:
		return NewCPUProvider(opts), nil
	case CoreMLOptions:
		return NewCoreMLProvider(opts), nil
	case OpenVINOOptions:
		return NewOpenVINOProvider(opts), nil
	case CUDAOptions:
		return NewCUDAProvider(opts), nil
	default:
		return nil, errors.Errorf("unsupported provider options type: %T", opts)
	}
}

// FromConfig builds the provider named by cfg.Backend using its matching options block.
func FromConfig(cfg Config) (ExecutionProvider, error) {
	switch ProviderBackend(strings.ToLower(cfg.Backend)) {
	case "", CPUProviderBackend:
		return NewProvider(CPUOptions{})
	case CUDAProviderBackend:
		return NewProvider(cfg.CUDA)
	case CoreMLProviderBackend:
		return NewProvider(cfg.CoreML)
	case OpenVINOProviderBackend:
		return NewProvider(cfg.OpenVINO)
	default:
		return nil, errors.Errorf("unsupported execution provider: %q", cfg.Backend)
	}
}
