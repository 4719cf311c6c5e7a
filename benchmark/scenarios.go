package benchmark

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
)

// Resolution is a capture region size to benchmark.
type Resolution struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name"`
}

// CommonResolutions are region sizes a screen capture is typically run at.
var CommonResolutions = []Resolution{
	{Width: 224, Height: 224, Name: "224x224"},
	{Width: 448, Height: 448, Name: "448x448"},
	{Width: 640, Height: 480, Name: "640x480"},
	{Width: 896, Height: 672, Name: "896x672"},
	{Width: 1280, Height: 720, Name: "1280x720"},
}

// Scenario is one benchmark configuration: frames of a fixed size cut into tiles of a
// fixed size.
type Scenario struct {
	Name       string     `json:"name"`
	Resolution Resolution `json:"resolution"`
	TileSize   int        `json:"tile_size"`
	Iterations int        `json:"iterations"`
	WarmupRuns int        `json:"warmup_runs"`
}

// Validate checks that a scenario can be run.
func (s Scenario) Validate() error {
	if s.Resolution.Width <= 0 || s.Resolution.Height <= 0 {
		return errors.Errorf("scenario %q: resolution must be positive", s.Name)
	}
	if s.TileSize <= 0 {
		return errors.Errorf("scenario %q: tile size must be positive", s.Name)
	}
	if s.Iterations <= 0 {
		return errors.Errorf("scenario %q: iterations must be positive", s.Name)
	}
	if s.WarmupRuns < 0 {
		return errors.Errorf("scenario %q: warmup runs must not be negative", s.Name)
	}
	return nil
}

// Tiles returns how many tiles each frame of the scenario yields.
func (s Scenario) Tiles() int {
	if s.TileSize <= 0 {
		return 0
	}
	// A dimension shorter than a tile is one tile along that axis.
	rows := max(s.Resolution.Height/s.TileSize, 1)
	cols := max(s.Resolution.Width/s.TileSize, 1)
	return rows * cols
}

// Size returns the frame size as a point.
func (s Scenario) Size() image.Point {
	return image.Pt(s.Resolution.Width, s.Resolution.Height)
}

// ScenarioBuilder helps build scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a builder with 100 iterations and 10 warmup runs.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			Iterations: 100,
			WarmupRuns: 10,
		},
	}
}

// WithResolution sets the frame size.
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.Resolution = Resolution{
		Width:  width,
		Height: height,
		Name:   fmt.Sprintf("%dx%d", width, height),
	}
	return sb
}

// WithTileSize sets the model's tile edge.
func (sb *ScenarioBuilder) WithTileSize(size int) *ScenarioBuilder {
	sb.scenario.TileSize = size
	return sb
}

// WithIterations sets the number of timed iterations.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of untimed iterations run first.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ScenarioSet is a named collection of related scenarios.
type ScenarioSet struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Scenarios   []Scenario `json:"scenarios"`
}

// QuickScenarios returns a small set: one tile, a 2x2 grid and a 3x3 grid.
func QuickScenarios(tileSize, iterations int) *ScenarioSet {
	scenarios := make([]Scenario, 0, 3)
	for _, n := range []int{1, 2, 3} {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("grid_%dx%d", n, n)).
			WithResolution(n*tileSize, n*tileSize).
			WithTileSize(tileSize).
			WithIterations(iterations).
			WithWarmupRuns(iterations/10).
			Build())
	}
	return &ScenarioSet{
		Name:        "Quick Pipeline Test",
		Description: "Square grids of one, four and nine tiles",
		Scenarios:   scenarios,
	}
}

// ResolutionScenarios returns one scenario per resolution at a fixed tile size.
func ResolutionScenarios(tileSize, iterations int, resolutions []Resolution) *ScenarioSet {
	if len(resolutions) == 0 {
		resolutions = CommonResolutions
	}
	scenarios := make([]Scenario, 0, len(resolutions))
	for _, r := range resolutions {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("region_%s", r.Name)).
			WithResolution(r.Width, r.Height).
			WithTileSize(tileSize).
			WithIterations(iterations).
			WithWarmupRuns(iterations/10).
			Build())
	}
	return &ScenarioSet{
		Name:        fmt.Sprintf("Resolution Comparison (%dpx tiles)", tileSize),
		Description: "Pipeline throughput as the capture region grows",
		Scenarios:   scenarios,
	}
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (Resolution, error) {
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
		return Resolution{}, errors.Wrapf(err, "parse resolution %q", s)
	}
	if w <= 0 || h <= 0 {
		return Resolution{}, errors.Errorf("resolution %q must be positive", s)
	}
	return Resolution{Width: w, Height: h, Name: fmt.Sprintf("%dx%d", w, h)}, nil
}
