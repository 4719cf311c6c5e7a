package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/capture"
	"github.com/nvr-ai/go-tileinfer/config"
	"github.com/nvr-ai/go-tileinfer/controller"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
)

// backendFactory builds a backend for a resolved model.
type backendFactory func(entry models.Entry, opts inference.Options) (inference.Backend, error)

// runner owns the loaded model and starts sessions on the loop. Only one model is loaded
// at a time and it can only be replaced while the loop is idle.
type runner struct {
	cfg        *config.Config
	registry   *models.Registry
	loop       *controller.Loop
	region     *capture.RegionRef
	provider   capture.Provider
	change     controller.ChangeDetector
	newBackend backendFactory
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	model   string
	backend inference.Backend
}

// Model returns the loaded model name.
func (r *runner) Model() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model
}

// Start loads name, replacing the previous model, and starts a run.
func (r *runner) Start(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loop.State() != controller.StateIdle {
		return controller.ErrAlreadyRunning
	}

	entry, err := r.registry.Get(name)
	if err != nil {
		return err
	}

	if r.backend == nil || r.model != name {
		path, err := models.Resolve(ctx, entry, r.cfg.Catalog.CacheDir)
		if err != nil {
			return err
		}
		backend, err := r.newBackend(entry, inference.Options{
			ModelPath: path,
			Provider:  r.cfg.Provider,
			Segmenter: r.cfg.Segmenter,
			Logger:    r.logger.With("model", name),
		})
		if err != nil {
			return errors.Wrapf(err, "load model %q", name)
		}
		if err := r.closeBackend(); err != nil {
			r.logger.Warnw("failed to release previous model", "model", r.model, "error", err)
		}
		r.backend, r.model = backend, name
		r.logger.Infow("model loaded", "model", name, "kind", entry.Kind, "tile_size", entry.TileSize)
	}

	return r.loop.Start(ctx, controller.Session{
		Region:    r.region,
		Provider:  r.provider,
		Backend:   r.backend,
		Metadata:  entry.Metadata(),
		Inference: r.cfg.Session.Inference(),
		Change:    r.change,
	})
}

func (r *runner) closeBackend() error {
	if r.backend == nil {
		return nil
	}
	err := r.backend.Close()
	r.backend, r.model = nil, ""
	return err
}

// Close stops the loop and releases the model and capture provider.
func (r *runner) Close() error {
	stopErr := r.loop.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.closeBackend()
	err = multierr.Append(err, r.provider.Close())
	if closer, ok := r.change.(interface{ Close() error }); ok {
		err = multierr.Append(err, closer.Close())
	}
	if stopErr != nil {
		r.logger.Warnw("last run ended with an error", "error", stopErr)
	}
	return err
}
