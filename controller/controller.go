// Package controller - The capture loop that drives capture, tiling, inference and aggregation.
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/aggregate"
	"github.com/nvr-ai/go-tileinfer/capture"
	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/profiler"
	"github.com/nvr-ai/go-tileinfer/tiles"
)

var (
	// ErrConfiguration is returned by Start when the session is incomplete.
	ErrConfiguration = errors.New("invalid session configuration")
	// ErrAlreadyRunning is returned by Start when a run is in progress.
	ErrAlreadyRunning = errors.New("capture loop already running")
)

// DefaultInterval is the idle time between iterations.
const DefaultInterval = 100 * time.Millisecond

// State of the loop.
type State int32

const (
	// StateIdle means no run is in progress.
	StateIdle State = iota
	// StateRunning means iterations are being produced.
	StateRunning
	// StateStopping means Stop was called and the last iteration is finishing.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// FailurePolicy decides what a failed capture does to the run.
type FailurePolicy string

const (
	// FailFast stops the run on the first error.
	FailFast FailurePolicy = "fail-fast"
	// Skip logs capture errors and tries again on the next iteration. Contract and
	// backend errors still stop the run.
	Skip FailurePolicy = "skip"
)

// ParseFailurePolicy accepts "fail-fast" (or "") and "skip".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailFast, "failfast", "fail_fast":
		return FailFast, nil
	case Skip:
		return Skip, nil
	}
	return "", errors.Wrapf(ErrConfiguration, "unknown failure policy %q", s)
}

// Config tunes the loop.
type Config struct {
	// Interval is the idle time after each emitted result.
	Interval time.Duration `mapstructure:"interval"`
	// Failure is the failure policy for capture errors.
	Failure FailurePolicy `mapstructure:"failure_policy"`
	// MinChange enables the change gate: when the session has a ChangeDetector and a
	// frame scores below MinChange, the previous result is emitted again instead of
	// running inference. Zero disables it.
	MinChange float64 `mapstructure:"min_change"`
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Failure == "" {
		c.Failure = FailFast
	}
	return c
}

// Session is everything one run needs. Only one backend is active per session; switching
// models means stopping and starting a new session.
type Session struct {
	// Region is read at the start of every iteration.
	Region *capture.RegionRef
	// Provider grabs frames.
	Provider capture.Provider
	// Backend runs the model.
	Backend inference.Backend
	// Metadata describes the loaded model.
	Metadata models.Metadata
	// Inference carries per-session settings such as min_conf.
	Inference inference.Config
	// Change is optional and only consulted when Config.MinChange is set.
	Change ChangeDetector
}

func (s Session) validate() error {
	switch {
	case s.Region == nil:
		return errors.Wrap(ErrConfiguration, "no capture region")
	case s.Provider == nil:
		return errors.Wrap(ErrConfiguration, "no capture provider")
	case s.Backend == nil:
		return errors.Wrap(ErrConfiguration, "no inference backend")
	}
	if _, ok := s.Region.Load(); !ok {
		return errors.Wrap(ErrConfiguration, "capture region not set")
	}
	if err := s.Metadata.Validate(); err != nil {
		return errors.Wrapf(ErrConfiguration, "model metadata: %v", err)
	}
	return nil
}

// Event is one emitted iteration result, or the error that ended a run.
type Event struct {
	RunID     uuid.UUID      `json:"run_id"`
	Sequence  uint64         `json:"sequence"`
	Time      time.Time      `json:"time"`
	Region    capture.Region `json:"region"`
	Composite images.Frame   `json:"-"`
	// Summary ends with the "(<elapsed> sec)" line.
	Summary string        `json:"summary"`
	Elapsed time.Duration `json:"elapsed"`
	// Reused is set when the change gate replayed the previous result.
	Reused bool  `json:"reused,omitempty"`
	Err    error `json:"-"`
}

// Emitter receives loop events. Emit is called on the loop goroutine and must not block
// for long; Broadcaster is the usual implementation.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the time source used for the interval and elapsed time.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithProfiler records stage timings into p.
func WithProfiler(p *profiler.Profiler) Option {
	return func(l *Loop) { l.profiler = p }
}

// WithConfig sets the loop configuration.
func WithConfig(cfg Config) Option {
	return func(l *Loop) { l.config = cfg }
}

// Loop is the capture loop state machine: Idle -> Running -> Stopping -> Idle.
//
// A single goroutine runs strictly sequential iterations. Stop is honoured only between
// iterations, so a result that has started is always emitted.
type Loop struct {
	emitter  Emitter
	clock    clock.Clock
	logger   *zap.SugaredLogger
	profiler *profiler.Profiler
	config   Config

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runID  uuid.UUID
	err    error
}

// NewLoop creates an idle loop that emits to emitter.
func NewLoop(emitter Emitter, opts ...Option) *Loop {
	l := &Loop{emitter: emitter}
	for _, opt := range opts {
		opt(l)
	}
	if l.emitter == nil {
		l.emitter = EmitterFunc(func(Event) {})
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	if l.logger == nil {
		l.logger = zap.NewNop().Sugar()
	}
	l.config = l.config.withDefaults()
	return l
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// RunID identifies the current or most recent run.
func (l *Loop) RunID() uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// Err returns the terminal error of the most recent run, nil while running or after a
// clean stop.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Start begins a run.
//
// Arguments:
//   - ctx: Cancelling it ends the run at the next iteration boundary, like Stop.
//   - s: The session to run.
//
// Returns:
//   - error: ErrConfiguration for an incomplete session, ErrAlreadyRunning if a run is
//     in progress.
func (l *Loop) Start(ctx context.Context, s Session) error {
	if err := s.validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.runID = uuid.New()
	l.err = nil

	go l.run(runCtx, s, l.runID, l.done)
	return nil
}

// Stop ends the run and blocks until the in-flight iteration, including its emit, has
// finished. It is safe to call from any goroutine and more than once.
//
// Returns:
//   - error: The terminal error of the run, nil on a clean stop.
func (l *Loop) Stop() error {
	l.mu.Lock()
	done, cancel := l.done, l.cancel
	if done == nil {
		err := l.err
		l.mu.Unlock()
		return err
	}
	l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	l.mu.Unlock()

	cancel()
	<-done
	return l.Err()
}

// Wait blocks until the current run ends on its own or through Stop.
func (l *Loop) Wait() error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done != nil {
		<-done
	}
	return l.Err()
}

// run is the producer goroutine.
func (l *Loop) run(ctx context.Context, s Session, runID uuid.UUID, done chan struct{}) {
	logger := l.logger.With("run_id", runID.String())
	logger.Infow("capture loop started", "interval", l.config.Interval, "failure_policy", l.config.Failure)

	err := l.iterations(ctx, s, runID, logger)

	l.mu.Lock()
	l.err = err
	l.done = nil
	l.cancel()
	l.state.Store(int32(StateIdle))
	l.mu.Unlock()
	close(done)

	if err != nil {
		logger.Errorw("capture loop stopped", "error", err)
		return
	}
	logger.Infow("capture loop stopped")
}

func (l *Loop) iterations(ctx context.Context, s Session, runID uuid.UUID, logger *zap.SugaredLogger) error {
	it := &iteration{session: s, runID: runID}
	// Iterations are never interrupted; cancellation is only observed between them.
	iterCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := l.iterate(iterCtx, it, logger); err != nil {
			if l.config.Failure == Skip && errors.Is(err, capture.ErrCapture) {
				logger.Warnw("skipping iteration", "error", err)
			} else {
				l.emitter.Emit(Event{RunID: runID, Sequence: it.seq, Time: l.clock.Now(), Err: err})
				return err
			}
		}

		timer := l.clock.Timer(l.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// iteration carries state between iterations of one run.
type iteration struct {
	session Session
	runID   uuid.UUID
	seq     uint64

	// Last result, replayed by the change gate.
	last       *aggregate.Result
	lastRegion capture.Region
}

// iterate performs capture, extract, predict, reduce and emit.
func (l *Loop) iterate(ctx context.Context, it *iteration, logger *zap.SugaredLogger) error {
	s := it.session
	region, _ := s.Region.Load()
	started := l.profiler.StartOperation(profiler.StageIteration)
	defer started()

	stop := l.profiler.StartOperation(profiler.StageCapture)
	frame, err := s.Provider.Capture(ctx, region)
	stop()
	if err != nil {
		if !errors.Is(err, capture.ErrCapture) {
			err = fmt.Errorf("%w: %w", capture.ErrCapture, err)
		}
		return err
	}

	begin := l.clock.Now()

	if res, ok := l.unchanged(it, region, frame, logger); ok {
		l.emit(it, region, res, l.clock.Since(begin), true)
		return nil
	}

	stop = l.profiler.StartOperation(profiler.StageExtract)
	grid, err := tiles.Extract(frame, s.Metadata.TileSize)
	stop()
	if err != nil {
		return errors.Wrap(err, "extract tiles")
	}

	stop = l.profiler.StartOperation(profiler.StagePredict)
	batch, err := s.Backend.Predict(ctx, grid, s.Metadata, s.Inference)
	stop()
	if err != nil {
		return err
	}

	stop = l.profiler.StartOperation(profiler.StageAggregate)
	res, err := aggregate.Reduce(frame, grid, batch, s.Metadata, s.Inference)
	stop()
	if err != nil {
		return err
	}

	it.last, it.lastRegion = &res, region
	l.emit(it, region, res, l.clock.Since(begin), false)

	logger.Debugw("iteration complete",
		"sequence", it.seq,
		"region", region.String(),
		"tiles", grid.Len(),
		"kind", batch.Kind,
	)
	return nil
}

// unchanged runs the change gate and returns the result to replay, if any.
func (l *Loop) unchanged(it *iteration, region capture.Region, frame images.Frame, logger *zap.SugaredLogger) (aggregate.Result, bool) {
	if l.config.MinChange <= 0 || it.session.Change == nil {
		return aggregate.Result{}, false
	}
	score, err := it.session.Change.Score(frame)
	if err != nil {
		logger.Warnw("change detection failed", "error", err)
		return aggregate.Result{}, false
	}
	if it.last == nil || it.lastRegion != region || score >= l.config.MinChange {
		return aggregate.Result{}, false
	}
	return *it.last, true
}

func (l *Loop) emit(it *iteration, region capture.Region, res aggregate.Result, elapsed time.Duration, reused bool) {
	it.seq++
	l.emitter.Emit(Event{
		RunID:     it.runID,
		Sequence:  it.seq,
		Time:      l.clock.Now(),
		Region:    region,
		Composite: res.Composite,
		Summary:   WithElapsed(res.Summary, elapsed),
		Elapsed:   elapsed,
		Reused:    reused,
	})
}

// WithElapsed appends the "(<seconds> sec)" line to a summary.
func WithElapsed(summary string, elapsed time.Duration) string {
	return fmt.Sprintf("%s\n(%.2f sec)", summary, elapsed.Seconds())
}
