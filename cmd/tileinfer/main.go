// Package main is the tileinfer command: real-time tiled inference over a screen region.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig   = "config"
	flagCatalog  = "catalog"
	flagModel    = "model"
	flagRegion   = "region"
	flagMinConf  = "min-conf"
	flagSource   = "source"
	flagInput    = "input"
	flagLoop     = "loop"
	flagWindow   = "window"
	flagServe    = "serve"
	flagAddr     = "addr"
	flagLogLevel = "log-level"
)

// newApp builds the command tree.
func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "tileinfer",
		Usage:     "run tiled image models over a region of the screen",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "configuration file (YAML or JSON)",
				EnvVars: []string{"TILEINFER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  flagCatalog,
				Usage: "model catalog, overrides catalog.path",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "capture a region and stream results",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Usage: "model name from the catalog"},
					&cli.StringFlag{Name: flagRegion, Aliases: []string{"r"}, Usage: "capture region as left,top,width,height"},
					&cli.StringFlag{Name: flagMinConf, Usage: "minimum confidence for classifier output"},
					&cli.StringFlag{Name: flagSource, Usage: "capture provider: screen, video, image or directory"},
					&cli.StringFlag{Name: flagInput, Usage: "file, directory, device index or URL for non-screen sources"},
					&cli.BoolFlag{Name: flagLoop, Usage: "restart video and directory sources when they end"},
					&cli.BoolFlag{Name: flagWindow, Usage: "show results in an OpenCV window"},
					&cli.BoolFlag{Name: flagServe, Usage: "serve the HTTP API and websocket stream"},
					&cli.StringFlag{Name: flagAddr, Usage: "HTTP listen address, overrides server.addr"},
				},
			},
			{
				Name:      "models",
				Usage:     "list the models in the catalog",
				Action:    modelsAction,
				ArgsUsage: " ",
			},
			{
				Name:      "classes",
				Usage:     "list a model's classes in sorted order",
				Action:    classesAction,
				ArgsUsage: "<model>",
			},
			{
				Name:      "info",
				Usage:     "show a model's description and capture size recommendation",
				Action:    infoAction,
				ArgsUsage: "<model>",
			},
			{
				Name:      "bench",
				Usage:     "measure extract, predict and aggregate throughput for a model",
				Action:    benchAction,
				ArgsUsage: "<model>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagInput, Usage: "directory of frames; synthetic frames when empty"},
					&cli.IntFlag{Name: flagIterations, Value: 100, Usage: "timed iterations per scenario"},
					&cli.StringSliceFlag{Name: flagResolutions, Usage: "region size as WIDTHxHEIGHT, repeatable"},
					&cli.StringFlag{Name: flagOutput, Usage: "directory for JSON and CSV results"},
				},
			},
		},
	}
}

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
