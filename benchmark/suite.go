package benchmark

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/aggregate"
	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/profiler"
	"github.com/nvr-ai/go-tileinfer/tiles"
	"github.com/nvr-ai/go-tileinfer/util"
)

// ErrNoFrames is returned when a scenario is run before any frames are loaded.
var ErrNoFrames = errors.New("no benchmark frames loaded")

// Suite runs scenarios against one backend and collects their metrics.
type Suite struct {
	backend   inference.Backend
	model     string
	metadata  models.Metadata
	inference inference.Config
	outputDir string
	clock     clock.Clock
	logger    *zap.SugaredLogger

	mu        sync.RWMutex
	scenarios []Scenario
	corpus    []images.Frame
	results   []PerformanceMetrics
}

// SuiteArgs represents the arguments for creating a new benchmark suite.
type SuiteArgs struct {
	// Backend is the loaded model. The suite does not close it.
	Backend inference.Backend
	// Model names the backend in the results.
	Model string
	// Metadata describes the model. Scenarios carry their own tile size.
	Metadata models.Metadata
	// Inference holds the session options passed to Predict and Reduce.
	Inference inference.Config
	// OutputPath is where SaveResults writes. Empty disables saving.
	OutputPath string
	// Clock is the time source (default: the wall clock).
	Clock clock.Clock
	// Logger receives progress. Nil disables logging.
	Logger *zap.SugaredLogger
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - args: The arguments for creating a new benchmark suite.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(args SuiteArgs) *Suite {
	if args.Clock == nil {
		args.Clock = clock.New()
	}
	if args.Logger == nil {
		args.Logger = zap.NewNop().Sugar()
	}
	return &Suite{
		backend:   args.Backend,
		model:     args.Model,
		metadata:  args.Metadata,
		inference: args.Inference,
		outputDir: args.OutputPath,
		clock:     args.Clock,
		logger:    args.Logger,
	}
}

// AddScenario adds a scenario to the suite.
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// AddFrames appends frames to the corpus the scenarios cycle through.
func (bs *Suite) AddFrames(frames ...images.Frame) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for _, f := range frames {
		if !f.Empty() {
			bs.corpus = append(bs.corpus, f)
		}
	}
}

// LoadFrames decodes every image in dir into the corpus.
//
// Arguments:
//   - dir: Directory of image files.
//
// Returns:
//   - int: The number of frames loaded.
//   - error: An error if the directory cannot be read or holds no decodable image.
func (bs *Suite) LoadFrames(dir string) (int, error) {
	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", dir)
	}

	var frames []images.Frame
	for _, f := range files {
		img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
		if err != nil {
			bs.logger.Warnw("skipping undecodable image", "path", f.Path, "error", err)
			continue
		}
		frames = append(frames, images.FromImage(img))
	}
	if len(frames) == 0 {
		return 0, errors.Wrapf(ErrNoFrames, "no valid images found in directory: %s", dir)
	}

	bs.AddFrames(frames...)
	return len(frames), nil
}

// SyntheticFrames returns n deterministic gradient frames of the given size, for
// benchmarking without a corpus.
func SyntheticFrames(n, width, height int) []images.Frame {
	frames := make([]images.Frame, n)
	for i := range frames {
		f := images.NewFrame(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				f.SetRGB(x, y, uint8(x+i*17), uint8(y+i*31), uint8((x^y)+i))
			}
		}
		frames[i] = f
	}
	return frames
}

// prepare resizes the corpus to the scenario's resolution so resizing is not timed.
func (bs *Suite) prepare(scenario Scenario) ([]images.Frame, error) {
	bs.mu.RLock()
	corpus := append([]images.Frame(nil), bs.corpus...)
	bs.mu.RUnlock()

	if len(corpus) == 0 {
		return nil, ErrNoFrames
	}

	size := scenario.Size()
	frames := make([]images.Frame, len(corpus))
	for i, f := range corpus {
		if f.Width == size.X && f.Height == size.Y {
			frames[i] = f
			continue
		}
		frames[i] = images.FromImage(imaging.Resize(f, size.X, size.Y, imaging.Linear))
	}
	return frames, nil
}

// process runs one frame through the pipeline, recording each stage.
func (bs *Suite) process(ctx context.Context, prof *profiler.Profiler, frame images.Frame, tileSize int) error {
	done := prof.StartOperation(profiler.StageIteration)
	defer done()

	stop := prof.StartOperation(profiler.StageExtract)
	grid, err := tiles.Extract(frame, tileSize)
	stop()
	if err != nil {
		return err
	}

	stop = prof.StartOperation(profiler.StagePredict)
	batch, err := bs.backend.Predict(ctx, grid, bs.metadata, bs.inference)
	stop()
	if err != nil {
		return err
	}

	stop = prof.StartOperation(profiler.StageAggregate)
	_, err = aggregate.Reduce(frame, grid, batch, bs.metadata, bs.inference)
	stop()
	return err
}

// RunScenario executes a single scenario.
//
// Warmup runs are not recorded. Failed iterations are counted rather than aborting the
// scenario; a contract violation aborts since every later iteration would fail the same
// way.
//
// Arguments:
//   - ctx: Cancels the scenario between iterations.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: The scenario's metrics.
//   - error: An error if the scenario is invalid, no frames are loaded or ctx is done.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	if bs.backend == nil {
		return nil, errors.New("benchmark suite has no backend")
	}
	frames, err := bs.prepare(scenario)
	if err != nil {
		return nil, err
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := bs.process(ctx, nil, frames[i%len(frames)], scenario.TileSize); err != nil {
			if errors.Is(err, inference.ErrContractViolation) {
				return nil, err
			}
			bs.logger.Debugw("warmup iteration failed", "scenario", scenario.Name, "error", err)
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	prof := profiler.New(profiler.Options{MaxSamples: scenario.Iterations, Clock: bs.clock})
	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Model:     bs.model,
		Timestamp: bs.clock.Now(),
		Tiles:     scenario.Tiles(),
		NumCPU:    runtime.NumCPU(),
	}

	start := bs.clock.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := bs.process(ctx, prof, frames[i%len(frames)], scenario.TileSize); err != nil {
			if errors.Is(err, inference.ErrContractViolation) {
				return nil, err
			}
			metrics.Errors++
		}
	}
	metrics.TotalDuration = bs.clock.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	if secs := metrics.TotalDuration.Seconds(); secs > 0 {
		metrics.FramesPerSecond = float64(scenario.Iterations) / secs
		metrics.TilesPerSecond = metrics.FramesPerSecond * float64(metrics.Tiles)
	}
	metrics.ErrorRate = float64(metrics.Errors) / float64(scenario.Iterations)
	metrics.Stages = prof.Summaries()
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}

	return metrics, nil
}

// RunAllScenarios executes every scenario and saves the results when an output path is
// set. A failing scenario is logged and skipped.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.RLock()
	scenarios := append([]Scenario(nil), bs.scenarios...)
	bs.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bs.logger.Warnw("scenario failed", "scenario", scenario.Name, "error", err)
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		bs.logger.Infow("scenario completed",
			"scenario", scenario.Name,
			"tiles", metrics.Tiles,
			"fps", fmt.Sprintf("%.2f", metrics.FramesPerSecond),
			"errors", metrics.Errors,
		)
	}

	if bs.outputDir == "" {
		return nil
	}
	_, _, err := bs.SaveResults()
	return err
}

// SaveResults writes the results as JSON and a CSV summary.
//
// Returns:
//   - string: The JSON file path.
//   - string: The CSV file path.
//   - error: An error if the files cannot be written.
func (bs *Suite) SaveResults() (string, string, error) {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return "", "", errors.Wrap(err, "failed to create output directory")
	}

	timestamp := bs.clock.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", "", errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return "", "", errors.Wrap(err, "failed to write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return "", "", errors.Wrap(err, "failed to save summary CSV")
	}

	bs.logger.Infow("benchmark results saved", "results", resultsFile, "summary", summaryFile)
	return resultsFile, summaryFile, nil
}

var summaryHeader = []string{
	"Scenario", "Model", "Resolution", "Tile_Size", "Tiles", "FPS", "Tiles_Per_Second",
	"Predict_P50_ms", "Predict_P95_ms", "Total_Duration_ms", "Alloc_MB", "Error_Rate",
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(summaryHeader); err != nil {
		return err
	}
	for _, r := range results {
		predict, _ := r.Stage(profiler.StagePredict)
		record := []string{
			r.Scenario.Name,
			r.Model,
			r.Scenario.Resolution.Name,
			strconv.Itoa(r.Scenario.TileSize),
			strconv.Itoa(r.Tiles),
			fmt.Sprintf("%.2f", r.FramesPerSecond),
			fmt.Sprintf("%.2f", r.TilesPerSecond),
			fmt.Sprintf("%.3f", float64(predict.P50)/1e6),
			fmt.Sprintf("%.3f", float64(predict.P95)/1e6),
			fmt.Sprintf("%.2f", float64(r.TotalDuration)/1e6),
			fmt.Sprintf("%.2f", float64(r.MemoryStats.AllocBytes)/(1024*1024)),
			fmt.Sprintf("%.4f", r.ErrorRate),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// GetResults returns all benchmark results.
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return append([]PerformanceMetrics(nil), bs.results...)
}
