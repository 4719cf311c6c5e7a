package presenter

import (
	"context"
	"image"
	"image/color"
	"strings"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-tileinfer/controller"
	"github.com/nvr-ai/go-tileinfer/images"
)

// Window shows each composite with its summary in an OpenCV window. OpenCV's highgui
// must be driven from the main goroutine, so Run blocks its caller.
type Window struct {
	win    *gocv.Window
	logger *zap.SugaredLogger
}

// NewWindow opens a window with the given title.
func NewWindow(title string, logger *zap.SugaredLogger) *Window {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Window{win: gocv.NewWindow(title), logger: logger}
}

// Run shows events from sub until ctx is done, sub closes or the window is closed.
func (w *Window) Run(ctx context.Context, sub *controller.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Err != nil {
				w.logger.Errorw("capture loop failed", "error", ev.Err)
				continue
			}
			if err := w.show(ev); err != nil {
				w.logger.Warnw("failed to show frame", "error", err)
			}
		default:
			// Pump the highgui event loop.
			if w.win.WaitKey(10) == 27 || !w.win.IsOpen() {
				return
			}
		}
	}
}

func (w *Window) show(ev controller.Event) error {
	img := Fit(ev.Composite, DisplayWidth, DisplayHeight)
	if img == nil {
		return nil
	}
	mat, err := images.ToMat(images.FromImage(img))
	if err != nil {
		return err
	}
	defer mat.Close()

	for i, line := range strings.Split(strings.TrimSpace(ev.Summary), "\n") {
		if line == "" {
			continue
		}
		gocv.PutText(&mat, line, image.Pt(8, 20+18*i), gocv.FontHersheySimplex, 0.5, color.RGBA{R: 255, G: 255, B: 0, A: 255}, 1)
	}
	w.win.IMShow(mat)
	return nil
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}

// LogSink writes each summary to the logger, for headless runs.
type LogSink struct {
	logger *zap.SugaredLogger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger}
}

// Run logs events from sub until ctx is done or sub closes.
func (s *LogSink) Run(ctx context.Context, sub *controller.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			s.Log(ev)
		}
	}
}

// Log writes one event.
func (s *LogSink) Log(ev controller.Event) {
	if ev.Err != nil {
		s.logger.Errorw("capture loop failed", "run_id", ev.RunID.String(), "error", ev.Err)
		return
	}
	s.logger.Infow("result",
		"run_id", ev.RunID.String(),
		"sequence", ev.Sequence,
		"region", ev.Region.String(),
		"reused", ev.Reused,
		"summary", strings.Split(strings.TrimSpace(ev.Summary), "\n"),
	)
}
