// Package profiler - Per-stage timing of the capture loop with rolling percentiles.
package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// Stage names recorded by the capture loop.
const (
	StageCapture   = "capture"
	StageExtract   = "extract"
	StagePredict   = "predict"
	StageAggregate = "aggregate"
	StageIteration = "iteration"
)

// Summary is a snapshot of one operation's timings over the retained window.
type Summary struct {
	Name  string        `json:"name"`
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// timeTracker keeps the most recent samples of one operation.
type timeTracker struct {
	samples []float64
	count   int64
}

// Options configures the profiler.
type Options struct {
	// MaxSamples is the rolling window per operation (default: 600).
	MaxSamples int
	// Clock is the time source (default: the wall clock).
	Clock clock.Clock
}

// Profiler records how long each stage of an iteration takes. It is safe for concurrent
// use. A nil *Profiler records nothing.
type Profiler struct {
	mu         sync.RWMutex
	clock      clock.Clock
	maxSamples int
	startTime  time.Time
	operations map[string]*timeTracker
}

// New creates a profiler.
//
// Arguments:
// - opts: Configuration options for the profiler.
//
// Returns:
// - *Profiler: The profiler.
func New(opts Options) *Profiler {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Profiler{
		clock:      opts.Clock,
		maxSamples: opts.MaxSamples,
		startTime:  opts.Clock.Now(),
		operations: make(map[string]*timeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track.
//
// Returns:
// - func() time.Duration: Call it when the operation completes. It records and returns
// the elapsed time.
func (p *Profiler) StartOperation(name string) func() time.Duration {
	if p == nil {
		start := time.Now()
		return func() time.Duration { return time.Since(start) }
	}
	start := p.clock.Now()
	return func() time.Duration {
		d := p.clock.Since(start)
		p.Record(name, d)
		return d
	}
}

// Record adds one sample for name.
func (p *Profiler) Record(name string, d time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, ok := p.operations[name]
	if !ok {
		tracker = &timeTracker{samples: make([]float64, 0, p.maxSamples)}
		p.operations[name] = tracker
	}
	tracker.samples = append(tracker.samples, float64(d))
	if len(tracker.samples) > p.maxSamples {
		tracker.samples = tracker.samples[1:]
	}
	tracker.count++
}

// Summaries returns a snapshot of every operation, sorted by name.
func (p *Profiler) Summaries() []Summary {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Summary, 0, len(p.operations))
	for name, tracker := range p.operations {
		out = append(out, summarize(name, tracker))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summary returns the snapshot for one operation.
func (p *Profiler) Summary(name string) (Summary, bool) {
	if p == nil {
		return Summary{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	tracker, ok := p.operations[name]
	if !ok {
		return Summary{}, false
	}
	return summarize(name, tracker), true
}

func summarize(name string, t *timeTracker) Summary {
	data := stats.Float64Data(t.samples)
	s := Summary{Name: name, Count: t.count}
	if len(data) == 0 {
		return s
	}

	// stats only fails on empty input, which is excluded above.
	mean, _ := data.Mean()
	p50, _ := data.Percentile(50)
	p95, _ := data.Percentile(95)
	lo, _ := data.Min()
	hi, _ := data.Max()

	s.Mean = time.Duration(mean)
	s.P50 = time.Duration(p50)
	s.P95 = time.Duration(p95)
	s.Min = time.Duration(lo)
	s.Max = time.Duration(hi)
	return s
}

// Report logs the current timings and memory usage.
func (p *Profiler) Report(logger *zap.SugaredLogger) {
	if p == nil || logger == nil {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	logger.Infow("profiler status",
		"uptime", p.clock.Since(p.startTime).Truncate(time.Millisecond),
		"goroutines", runtime.NumGoroutine(),
		"heap_alloc", formatBytes(mem.HeapAlloc),
		"gc_cycles", mem.NumGC,
	)

	for _, s := range p.Summaries() {
		logger.Infow("operation timing",
			"operation", s.Name,
			"count", s.Count,
			"mean", s.Mean.Truncate(time.Microsecond),
			"p50", s.P50.Truncate(time.Microsecond),
			"p95", s.P95.Truncate(time.Microsecond),
			"max", s.Max.Truncate(time.Microsecond),
		)
	}
}

// Run logs a report every interval until ctx is done.
func (p *Profiler) Run(ctx context.Context, interval time.Duration, logger *zap.SugaredLogger) {
	if p == nil || interval <= 0 {
		return
	}
	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Report(logger)
		}
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
