package profiler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStartOperationUsesClock(t *testing.T) {
	mock := clock.NewMock()
	p := New(Options{Clock: mock})

	done := p.StartOperation(StagePredict)
	mock.Add(40 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, done())

	s, ok := p.Summary(StagePredict)
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Count)
	assert.Equal(t, 40*time.Millisecond, s.Mean)
}

func TestSummaryPercentiles(t *testing.T) {
	p := New(Options{MaxSamples: 4})
	for _, ms := range []int{100, 1, 2, 3, 4} {
		p.Record(StageCapture, time.Duration(ms)*time.Millisecond)
	}

	s, ok := p.Summary(StageCapture)
	require.True(t, ok)
	// The oldest sample fell out of the window but still counts.
	assert.Equal(t, int64(5), s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 4*time.Millisecond, s.Max)
	assert.Equal(t, 2500*time.Microsecond, s.Mean)
}

func TestSummariesSorted(t *testing.T) {
	p := New(Options{})
	p.Record(StagePredict, time.Millisecond)
	p.Record(StageAggregate, time.Millisecond)
	p.Record(StageCapture, time.Millisecond)

	var names []string
	for _, s := range p.Summaries() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{StageAggregate, StageCapture, StagePredict}, names)

	_, ok := p.Summary("missing")
	assert.False(t, ok)
	p.Report(zap.NewNop().Sugar())
}

func TestNilProfiler(t *testing.T) {
	var p *Profiler
	p.Record(StageCapture, time.Second)
	assert.Nil(t, p.Summaries())
	assert.GreaterOrEqual(t, p.StartOperation(StageCapture)(), time.Duration(0))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
}
