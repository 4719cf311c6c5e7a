package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/capture"
	"github.com/nvr-ai/go-tileinfer/config"
	"github.com/nvr-ai/go-tileinfer/controller"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/presenter"
	"github.com/nvr-ai/go-tileinfer/profiler"
	"github.com/nvr-ai/go-tileinfer/util"
)

// parseRegion parses "left,top,width,height".
func parseRegion(s string) (capture.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return capture.Region{}, errors.Errorf("region %q must be left,top,width,height", s)
	}
	var v [4]uint
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return capture.Region{}, errors.Wrapf(err, "region %q", s)
		}
		v[i] = uint(n)
	}
	r := capture.Region{Left: v[0], Top: v[1], Width: v[2], Height: v[3]}
	return r, r.Validate()
}

// applyRunFlags lets command line flags override the configuration.
func applyRunFlags(c *cli.Context, cfg *config.Config) error {
	if m := c.String(flagModel); m != "" {
		cfg.Session.Model = m
	}
	if c.IsSet(flagMinConf) {
		cfg.Session.MinConf = c.String(flagMinConf)
	}
	if s := c.String(flagRegion); s != "" {
		r, err := parseRegion(s)
		if err != nil {
			return err
		}
		cfg.Session.Region = r
	}
	if s := c.String(flagSource); s != "" {
		cfg.Capture.Kind = s
	}
	if s := c.String(flagInput); s != "" {
		cfg.Capture.Source = s
	}
	if c.IsSet(flagLoop) {
		cfg.Capture.Loop = c.Bool(flagLoop)
	}
	if c.IsSet(flagServe) {
		cfg.Server.Enabled = c.Bool(flagServe)
	}
	if a := c.String(flagAddr); a != "" {
		cfg.Server.Addr = a
	}
	return nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyRunFlags(c, cfg); err != nil {
		return err
	}

	base, err := util.NewLogger(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = base.Sync() }()
	logger := base.Sugar()

	registry, err := models.LoadRegistry(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	region := &capture.RegionRef{}
	if cfg.Session.Region.Validate() == nil {
		if err := region.Store(cfg.Session.Region); err != nil {
			return err
		}
	}

	provider, err := capture.NewProvider(cfg.Capture)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prof := profiler.New(profiler.Options{MaxSamples: cfg.Profiler.MaxSamples})
	go prof.Run(ctx, cfg.Profiler.ReportInterval, logger.Named("profiler"))

	broadcaster := controller.NewBroadcaster()
	defer broadcaster.Close()

	loop := controller.NewLoop(broadcaster,
		controller.WithLogger(logger.Named("loop")),
		controller.WithProfiler(prof),
		controller.WithConfig(cfg.Loop),
	)

	r := &runner{
		cfg:        cfg,
		registry:   registry,
		loop:       loop,
		region:     region,
		provider:   provider,
		change:     cfg.ChangeDetector(),
		newBackend: inference.NewBackend,
		logger:     logger,
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warnw("shutdown", "error", err)
		}
	}()

	go presenter.NewLogSink(logger.Named("result")).Run(ctx, broadcaster.Subscribe())

	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		hub := presenter.NewHub(logger.Named("hub"))
		go hub.Run(ctx, broadcaster.Subscribe())

		srv := presenter.NewServer(presenter.ServerConfig{
			Mode:     cfg.Server.Mode,
			Loop:     loop,
			Region:   region,
			Registry: registry,
			Hub:      hub,
			Profiler: prof,
			Start:    r.Start,
			Model:    r.Model,
			Logger:   logger.Named("http"),
		})
		go func() { serverErr <- srv.ListenAndServe(ctx, cfg.Server.Addr) }()
	}

	if cfg.Session.Model != "" {
		if err := r.Start(ctx, cfg.Session.Model); err != nil {
			return err
		}
		logger.Infow("run started", "model", cfg.Session.Model, "run_id", loop.RunID().String())
	} else if !cfg.Server.Enabled {
		return errors.Wrap(controller.ErrConfiguration, "no model selected; pass --model or enable the server")
	}

	if c.Bool(flagWindow) {
		win := presenter.NewWindow("tileinfer", logger.Named("window"))
		defer win.Close()
		// highgui runs on this goroutine.
		win.Run(ctx, broadcaster.Subscribe())
		return nil
	}

	return wait(ctx, loop, cfg.Server.Enabled, serverErr, logger)
}

// wait blocks until a signal arrives. Without a server there is nothing left to do once
// the loop ends, so its terminal error ends the command too.
func wait(ctx context.Context, loop *controller.Loop, serving bool, serverErr <-chan error, logger *zap.SugaredLogger) error {
	loopDone := make(chan error, 1)
	if !serving {
		go func() { loopDone <- loop.Wait() }()
	}

	select {
	case <-ctx.Done():
		logger.Infow("shutting down")
		return nil
	case err := <-loopDone:
		return err
	case err := <-serverErr:
		return err
	}
}
