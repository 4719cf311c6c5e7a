// Package providers - Inference sessions.
package providers

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// InitializeEnvironment loads the onnxruntime shared library and prepares the native
// environment. Only the first call has any effect; later calls return its result.
//
// Arguments:
//   - libPath: The shared library to load. Empty selects the platform default.
//
// Returns:
//   - error: An error if the library is missing or fails to initialize.
func InitializeEnvironment(libPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}

		path, err := GetSharedLibPath(libPath)
		if err != nil {
			envErr = err
			return
		}
		if _, err := os.Stat(path); err != nil {
			envErr = errors.Wrapf(err, "onnx runtime library not found at %s", path)
			return
		}

		// Point ONNX Runtime to the exact shared library path (overrides default search).
		ort.SetSharedLibraryPath(path)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrap(err, "error initializing ORT environment")
		}
	})
	return envErr
}

// NewSessionOptions creates session options with threading, graph optimisation and the
// execution provider applied.
//
// Execution Providers (EPs) let ONNX Runtime leverage specialized hardware or optimized
// libraries. The CPU provider is always present, so selecting it appends nothing.
//
// Arguments:
//   - provider: The execution provider to append.
//   - cfg: Threading settings.
//
// Returns:
//   - *ort.SessionOptions: The options. The caller must Destroy them after creating the session.
//   - error: An error if an option cannot be applied.
func NewSessionOptions(provider ExecutionProvider, cfg Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := applySessionOptions(options, provider, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func applySessionOptions(options *ort.SessionOptions, provider ExecutionProvider, cfg Config) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return errors.Wrap(err, "set inter-op threads")
	}
	// Enables graph rewrites (fusion, constant folding) during loading.
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "set graph optimization level")
	}

	switch provider.Backend() {
	case CPUProviderBackend:
	case CoreMLProviderBackend:
		opts, ok := provider.Options().(CoreMLOptions)
		if !ok {
			return errors.Errorf("invalid options type for CoreML: %T", provider.Options())
		}
		if err := options.AppendExecutionProviderCoreML(opts.Flags()); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case OpenVINOProviderBackend:
		opts, ok := provider.Options().(OpenVINOOptions)
		if !ok {
			return errors.Errorf("invalid options type for OpenVINO: %T", provider.Options())
		}
		if err := options.AppendExecutionProviderOpenVINO(opts.ToMap()); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	case CUDAProviderBackend:
		opts, ok := provider.Options().(CUDAOptions)
		if !ok {
			return errors.Errorf("invalid options type for CUDA: %T", provider.Options())
		}
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	default:
		return errors.Errorf("unsupported execution provider: %s", provider.Backend())
	}
	return nil
}
