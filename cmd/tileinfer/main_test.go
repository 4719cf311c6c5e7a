package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/benchmark"
	"github.com/nvr-ai/go-tileinfer/capture"
	"github.com/nvr-ai/go-tileinfer/config"
	"github.com/nvr-ai/go-tileinfer/controller"
	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

const catalogYAML = `
categories:
  - name: Classification Models
    models:
      - name: Tissue
        info_file: tissue.json
`

const tissueJSON = `{
  "tile_size": 224,
  "classes": ["stroma", "adipose", "tumor"],
  "info": "Tissue type classifier.",
  "repo_src": "Local",
  "model": "VGG19",
  "repo": "tissue.onnx"
}`

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(catalogYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tissue.json"), []byte(tissueJSON), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tissue.onnx"), []byte("onnx"), 0o600))
	return filepath.Join(dir, "catalog.yaml")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out, &out).Run(append([]string{"tileinfer"}, args...))
	return out.String(), err
}

func TestParseRegion(t *testing.T) {
	r, err := parseRegion("10, 20,300,200")
	require.NoError(t, err)
	assert.Equal(t, capture.Region{Left: 10, Top: 20, Width: 300, Height: 200}, r)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "1,2,0,4", "-1,0,4,4"} {
		_, err := parseRegion(bad)
		assert.Error(t, err, bad)
	}
}

func TestCatalogCommands(t *testing.T) {
	path := writeCatalog(t)

	out, err := runCLI(t, "--catalog", path, "models")
	require.NoError(t, err)
	assert.Equal(t, "Classification Models:\n  Tissue (classifier, 224px)\n", out)

	out, err = runCLI(t, "--catalog", path, "classes", "Tissue")
	require.NoError(t, err)
	assert.Equal(t, "adipose\nstroma\ntumor\n", out)

	out, err = runCLI(t, "--catalog", path, "info", "Tissue")
	require.NoError(t, err)
	assert.Contains(t, out, "Tissue type classifier.\n\nThis model was trained on images of size 224 x 224 (px)")

	_, err = runCLI(t, "--catalog", path, "info", "Nope")
	assert.ErrorIs(t, err, models.ErrUnknownModel)

	_, err = runCLI(t, "--catalog", path, "classes")
	assert.Error(t, err)
}

// stillProvider returns a blank frame of the region's size.
type stillProvider struct{}

func (stillProvider) Capture(_ context.Context, r capture.Region) (images.Frame, error) {
	return images.NewFrame(int(r.Width), int(r.Height)), nil
}

func (stillProvider) Close() error { return nil }

type stubBackend struct {
	closed bool
}

func (b *stubBackend) Kind() models.Kind { return models.KindClassifier }

func (b *stubBackend) Predict(_ context.Context, grid tiles.Grid, md models.Metadata, _ inference.Config) (inference.Batch, error) {
	rows := make([][]float32, grid.Len())
	for i := range rows {
		rows[i] = make([]float32, len(md.Classes))
		rows[i][0] = 1
	}
	return inference.Batch{Kind: models.KindClassifier, Classifications: rows}, nil
}

func (b *stubBackend) Close() error {
	b.closed = true
	return nil
}

func TestRunnerSwitchesModelsOnlyWhenIdle(t *testing.T) {
	registry, err := models.LoadRegistry(writeCatalog(t))
	require.NoError(t, err)
	region, err := capture.NewRegionRef(capture.Region{Width: 448, Height: 224})
	require.NoError(t, err)

	var built []*stubBackend
	r := &runner{
		cfg:      &config.Config{},
		registry: registry,
		loop:     controller.NewLoop(nil, controller.WithClock(clock.NewMock())),
		region:   region,
		provider: stillProvider{},
		newBackend: func(models.Entry, inference.Options) (inference.Backend, error) {
			b := &stubBackend{}
			built = append(built, b)
			return b, nil
		},
		logger: zap.NewNop().Sugar(),
	}

	require.NoError(t, r.Start(context.Background(), "Tissue"))
	assert.Equal(t, "Tissue", r.Model())
	assert.ErrorIs(t, r.Start(context.Background(), "Tissue"), controller.ErrAlreadyRunning)

	require.NoError(t, r.loop.Stop())
	assert.ErrorIs(t, r.Start(context.Background(), "Nope"), models.ErrUnknownModel)

	// Restarting the same model reuses the loaded backend.
	require.NoError(t, r.Start(context.Background(), "Tissue"))
	assert.Len(t, built, 1)

	require.NoError(t, r.Close())
	assert.True(t, built[0].closed)
	assert.Equal(t, controller.StateIdle, r.loop.State())
}

func TestBenchScenarios(t *testing.T) {
	set, err := benchScenarios(224, 10, nil)
	require.NoError(t, err)
	assert.Len(t, set.Scenarios, 3)

	set, err = benchScenarios(224, 10, []string{"448x224", "672x672"})
	require.NoError(t, err)
	require.Len(t, set.Scenarios, 2)
	assert.Equal(t, 2, set.Scenarios[0].Tiles())
	assert.Equal(t, 9, set.Scenarios[1].Tiles())

	_, err = benchScenarios(224, 10, []string{"wide"})
	assert.Error(t, err)
}

func TestRunBenchPrintsResults(t *testing.T) {
	suite := benchmark.NewSuite(benchmark.SuiteArgs{
		Backend:  &stubBackend{},
		Model:    "Tissue",
		Metadata: models.Metadata{TileSize: 4, Classes: []string{"stroma", "tumor"}},
	})
	suite.AddFrames(benchmark.SyntheticFrames(1, 12, 12)...)

	set, err := benchScenarios(4, 3, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runBench(context.Background(), &out, suite, set))
	assert.Contains(t, out.String(), "Quick Pipeline Test\n")
	assert.Contains(t, out.String(), "grid_3x3")
	assert.Contains(t, out.String(), "  9 tiles")
}
