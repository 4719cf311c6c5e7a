package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/benchmark"
	"github.com/nvr-ai/go-tileinfer/config"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/profiler"
	"github.com/nvr-ai/go-tileinfer/util"
)

const (
	flagIterations  = "iterations"
	flagResolutions = "resolution"
	flagOutput      = "output"
)

// benchScenarios builds the scenario set for a model: the quick grids when no
// resolution is given, otherwise one scenario per resolution.
func benchScenarios(tileSize, iterations int, resolutions []string) (*benchmark.ScenarioSet, error) {
	if len(resolutions) == 0 {
		return benchmark.QuickScenarios(tileSize, iterations), nil
	}
	parsed := make([]benchmark.Resolution, 0, len(resolutions))
	for _, s := range resolutions {
		r, err := benchmark.ParseResolution(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, r)
	}
	return benchmark.ResolutionScenarios(tileSize, iterations, parsed), nil
}

// runBench loads frames, runs every scenario and prints a table of the results.
func runBench(ctx context.Context, out io.Writer, suite *benchmark.Suite, set *benchmark.ScenarioSet) error {
	for _, s := range set.Scenarios {
		suite.AddScenario(s)
	}
	if err := suite.RunAllScenarios(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n", set.Name)
	for _, r := range suite.GetResults() {
		predict, _ := r.Stage(profiler.StagePredict)
		fmt.Fprintf(out, "  %-16s %3d tiles  %8.2f fps  predict p50 %v  p95 %v\n",
			r.Scenario.Name, r.Tiles, r.FramesPerSecond, predict.P50, predict.P95)
	}
	return nil
}

func benchAction(c *cli.Context) error {
	cfg, reg, err := loadRegistry(c)
	if err != nil {
		return err
	}
	name, err := modelArg(c)
	if err != nil {
		return err
	}
	entry, err := reg.Get(name)
	if err != nil {
		return err
	}

	base, err := util.NewLogger(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = base.Sync() }()
	logger := base.Sugar()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := loadBackend(ctx, cfg, entry, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	set, err := benchScenarios(entry.TileSize, c.Int(flagIterations), c.StringSlice(flagResolutions))
	if err != nil {
		return err
	}

	suite := benchmark.NewSuite(benchmark.SuiteArgs{
		Backend:    backend,
		Model:      entry.Name,
		Metadata:   entry.Metadata(),
		Inference:  cfg.Session.Inference(),
		OutputPath: c.String(flagOutput),
		Logger:     logger.Named("benchmark"),
	})
	if dir := c.String(flagInput); dir != "" {
		n, err := suite.LoadFrames(dir)
		if err != nil {
			return err
		}
		logger.Infow("loaded benchmark frames", "dir", dir, "frames", n)
	} else {
		suite.AddFrames(benchmark.SyntheticFrames(4, 3*entry.TileSize, 3*entry.TileSize)...)
	}

	return runBench(ctx, c.App.Writer, suite, set)
}

// loadBackend resolves and opens a model outside of a capture session.
func loadBackend(ctx context.Context, cfg *config.Config, entry models.Entry, logger *zap.SugaredLogger) (inference.Backend, error) {
	path, err := models.Resolve(ctx, entry, cfg.Catalog.CacheDir)
	if err != nil {
		return nil, err
	}
	return inference.NewBackend(entry, inference.Options{
		ModelPath: path,
		Provider:  cfg.Provider,
		Segmenter: cfg.Segmenter,
		Logger:    logger.With("model", entry.Name),
	})
}
