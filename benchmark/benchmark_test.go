package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/profiler"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

// mockBackend classifies every tile as the first class and advances the clock to
// simulate inference time.
type mockBackend struct {
	clock   *clock.Mock
	latency time.Duration
	calls   int
	tiles   []int
	err     error
	rows    int
}

func (m *mockBackend) Kind() models.Kind { return models.KindClassifier }

func (m *mockBackend) Predict(_ context.Context, grid tiles.Grid, md models.Metadata, _ inference.Config) (inference.Batch, error) {
	m.calls++
	m.tiles = append(m.tiles, grid.Len())
	if m.clock != nil {
		m.clock.Add(m.latency)
	}
	if m.err != nil {
		return inference.Batch{}, m.err
	}
	n := grid.Len() + m.rows
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, len(md.Classes))
		rows[i][0] = 1
	}
	return inference.Batch{Kind: models.KindClassifier, Classifications: rows}, nil
}

func (m *mockBackend) Close() error { return nil }

var testMetadata = models.Metadata{TileSize: 8, Classes: []string{"a", "b"}}

func newTestSuite(t *testing.T, backend inference.Backend, clk clock.Clock, out string) *Suite {
	t.Helper()
	return NewSuite(SuiteArgs{
		Backend:    backend,
		Model:      "mock",
		Metadata:   testMetadata,
		OutputPath: out,
		Clock:      clk,
	})
}

func TestScenarioBuilder(t *testing.T) {
	scenario := NewScenarioBuilder("test_scenario").
		WithResolution(640, 480).
		WithTileSize(224).
		WithIterations(50).
		WithWarmupRuns(5).
		Build()

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, Resolution{Width: 640, Height: 480, Name: "640x480"}, scenario.Resolution)
	assert.Equal(t, 224, scenario.TileSize)
	assert.Equal(t, 50, scenario.Iterations)
	assert.Equal(t, 5, scenario.WarmupRuns)
	assert.Equal(t, 4, scenario.Tiles())
	assert.NoError(t, scenario.Validate())
}

func TestScenarioTiles(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		tile          int
		want          int
	}{
		{name: "exact grid", width: 672, height: 448, tile: 224, want: 6},
		{name: "cropped edges", width: 700, height: 500, tile: 224, want: 6},
		{name: "smaller than a tile", width: 100, height: 50, tile: 224, want: 1},
		{name: "narrow strip", width: 1000, height: 100, tile: 224, want: 4},
		{name: "no tile size", width: 100, height: 100, tile: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScenarioBuilder(tt.name).WithResolution(tt.width, tt.height).WithTileSize(tt.tile).Build()
			assert.Equal(t, tt.want, s.Tiles())
		})
	}
}

func TestScenarioTilesMatchesExtract(t *testing.T) {
	s := NewScenarioBuilder("strip").WithResolution(30, 5).WithTileSize(8).Build()
	grid, err := tiles.Extract(SyntheticFrames(1, 30, 5)[0], 8)
	require.NoError(t, err)
	assert.Equal(t, grid.Len(), s.Tiles())
}

func TestScenarioValidate(t *testing.T) {
	base := NewScenarioBuilder("s").WithResolution(16, 16).WithTileSize(8)
	assert.NoError(t, base.Build().Validate())

	assert.Error(t, NewScenarioBuilder("s").WithTileSize(8).Build().Validate())
	assert.Error(t, NewScenarioBuilder("s").WithResolution(16, 16).Build().Validate())
	assert.Error(t, NewScenarioBuilder("s").WithResolution(16, 16).WithTileSize(8).WithIterations(0).Build().Validate())
	assert.Error(t, NewScenarioBuilder("s").WithResolution(16, 16).WithTileSize(8).WithWarmupRuns(-1).Build().Validate())
}

func TestPredefinedScenarios(t *testing.T) {
	quick := QuickScenarios(224, 20)
	require.Len(t, quick.Scenarios, 3)
	assert.Equal(t, "Quick Pipeline Test", quick.Name)
	assert.Equal(t, []int{1, 4, 9}, []int{quick.Scenarios[0].Tiles(), quick.Scenarios[1].Tiles(), quick.Scenarios[2].Tiles()})
	assert.Equal(t, 2, quick.Scenarios[0].WarmupRuns)

	res := ResolutionScenarios(224, 10, nil)
	assert.Len(t, res.Scenarios, len(CommonResolutions))
	assert.Contains(t, res.Name, "Resolution Comparison")

	custom := ResolutionScenarios(8, 10, []Resolution{{Width: 16, Height: 8, Name: "16x8"}})
	require.Len(t, custom.Scenarios, 1)
	assert.Equal(t, "region_16x8", custom.Scenarios[0].Name)
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("640x480")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Width: 640, Height: 480, Name: "640x480"}, r)

	for _, bad := range []string{"", "640", "0x480", "axb"} {
		_, err := ParseResolution(bad)
		assert.Error(t, err, bad)
	}
}

func TestRunScenario(t *testing.T) {
	clk := clock.NewMock()
	backend := &mockBackend{clock: clk, latency: 10 * time.Millisecond}
	suite := newTestSuite(t, backend, clk, "")
	suite.AddFrames(SyntheticFrames(2, 20, 20)...)

	scenario := NewScenarioBuilder("grid").WithResolution(16, 16).WithTileSize(8).WithIterations(10).WithWarmupRuns(3).Build()
	metrics, err := suite.RunScenario(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, 13, backend.calls)
	for _, n := range backend.tiles {
		assert.Equal(t, 4, n)
	}
	assert.Equal(t, "mock", metrics.Model)
	assert.Equal(t, 4, metrics.Tiles)
	assert.Equal(t, 100*time.Millisecond, metrics.TotalDuration)
	assert.InDelta(t, 100.0, metrics.FramesPerSecond, 1e-9)
	assert.InDelta(t, 400.0, metrics.TilesPerSecond, 1e-9)
	assert.Zero(t, metrics.Errors)

	predict, ok := metrics.Stage(profiler.StagePredict)
	require.True(t, ok)
	assert.Equal(t, int64(10), predict.Count)
	assert.Equal(t, 10*time.Millisecond, predict.P50)

	_, ok = metrics.Stage("missing")
	assert.False(t, ok)
}

func TestRunScenarioCountsBackendErrors(t *testing.T) {
	backend := &mockBackend{err: inference.ErrBackend}
	suite := newTestSuite(t, backend, clock.NewMock(), "")
	suite.AddFrames(SyntheticFrames(1, 8, 8)...)

	scenario := NewScenarioBuilder("fail").WithResolution(8, 8).WithTileSize(8).WithIterations(4).WithWarmupRuns(0).Build()
	metrics, err := suite.RunScenario(context.Background(), scenario)
	require.NoError(t, err)
	assert.Equal(t, 4, metrics.Errors)
	assert.InDelta(t, 1.0, metrics.ErrorRate, 1e-9)
}

func TestRunScenarioAbortsOnContractViolation(t *testing.T) {
	backend := &mockBackend{rows: 1}
	suite := newTestSuite(t, backend, clock.NewMock(), "")
	suite.AddFrames(SyntheticFrames(1, 8, 8)...)

	scenario := NewScenarioBuilder("bad").WithResolution(8, 8).WithTileSize(8).WithIterations(5).WithWarmupRuns(0).Build()
	_, err := suite.RunScenario(context.Background(), scenario)
	assert.ErrorIs(t, err, inference.ErrContractViolation)
	assert.Equal(t, 1, backend.calls)
}

func TestRunScenarioWithoutFrames(t *testing.T) {
	suite := newTestSuite(t, &mockBackend{}, clock.NewMock(), "")
	scenario := NewScenarioBuilder("empty").WithResolution(8, 8).WithTileSize(8).Build()
	_, err := suite.RunScenario(context.Background(), scenario)
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestRunScenarioCancelled(t *testing.T) {
	suite := newTestSuite(t, &mockBackend{}, clock.NewMock(), "")
	suite.AddFrames(SyntheticFrames(1, 8, 8)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scenario := NewScenarioBuilder("cancel").WithResolution(8, 8).WithTileSize(8).Build()
	_, err := suite.RunScenario(ctx, scenario)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFrames(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 12, 6))
	f, err := os.Create(filepath.Join(dir, "frame-1.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-2.png"), []byte("not an image"), 0o644))

	suite := newTestSuite(t, &mockBackend{}, clock.NewMock(), "")
	n, err := suite.LoadFrames(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = newTestSuite(t, &mockBackend{}, clock.NewMock(), "").LoadFrames(t.TempDir())
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestRunAllScenariosSavesResults(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results")
	clk := clock.NewMock()
	backend := &mockBackend{clock: clk, latency: time.Millisecond}
	suite := newTestSuite(t, backend, clk, out)
	suite.AddFrames(SyntheticFrames(1, 32, 32)...)

	for _, s := range QuickScenarios(8, 5).Scenarios {
		suite.AddScenario(s)
	}
	// Fails validation and is skipped.
	suite.AddScenario(NewScenarioBuilder("invalid").Build())

	require.NoError(t, suite.RunAllScenarios(context.Background()))
	results := suite.GetResults()
	require.Len(t, results, 3)

	jsonFiles, err := filepath.Glob(filepath.Join(out, "benchmark_results_*.json"))
	require.NoError(t, err)
	require.Len(t, jsonFiles, 1)
	data, err := os.ReadFile(jsonFiles[0])
	require.NoError(t, err)
	var decoded []PerformanceMetrics
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 3)

	csvFiles, err := filepath.Glob(filepath.Join(out, "benchmark_summary_*.csv"))
	require.NoError(t, err)
	require.Len(t, csvFiles, 1)
	f, err := os.Open(csvFiles[0])
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, summaryHeader, records[0])
	assert.Equal(t, "grid_1x1", records[1][0])
	assert.Equal(t, "mock", records[1][1])
}

func BenchmarkSyntheticPipeline(b *testing.B) {
	suite := NewSuite(SuiteArgs{Backend: &mockBackend{}, Metadata: testMetadata})
	suite.AddFrames(SyntheticFrames(1, 64, 64)...)
	scenario := NewScenarioBuilder("bench").WithResolution(64, 64).WithTileSize(8).WithIterations(1).WithWarmupRuns(0).Build()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := suite.RunScenario(context.Background(), scenario); err != nil {
			b.Fatal(err)
		}
	}
}
