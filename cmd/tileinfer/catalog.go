package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/nvr-ai/go-tileinfer/config"
	"github.com/nvr-ai/go-tileinfer/models"
)

// loadConfig reads the configuration and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if p := c.String(flagCatalog); p != "" {
		cfg.Catalog.Path = p
	}
	if lvl := c.String(flagLogLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func loadRegistry(c *cli.Context) (*config.Config, *models.Registry, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	reg, err := models.LoadRegistry(cfg.Catalog.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, reg, nil
}

func modelArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("expected exactly one model name, got %d arguments", c.NArg())
	}
	return c.Args().First(), nil
}

func modelsAction(c *cli.Context) error {
	_, reg, err := loadRegistry(c)
	if err != nil {
		return err
	}
	for _, cat := range reg.Categories() {
		fmt.Fprintf(c.App.Writer, "%s:\n", cat.Name)
		for _, name := range cat.Models {
			e, err := reg.Get(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "  %s (%s, %dpx)\n", e.Name, e.Kind, e.TileSize)
		}
	}
	return nil
}

func classesAction(c *cli.Context) error {
	name, err := modelArg(c)
	if err != nil {
		return err
	}
	_, reg, err := loadRegistry(c)
	if err != nil {
		return err
	}
	classes, err := reg.Classes(name)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, strings.Join(classes, "\n"))
	return nil
}

func infoAction(c *cli.Context) error {
	name, err := modelArg(c)
	if err != nil {
		return err
	}
	_, reg, err := loadRegistry(c)
	if err != nil {
		return err
	}
	e, err := reg.Get(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\n\n%s\n", strings.TrimSpace(e.Info), models.Recommendation(e.TileSize))
	return nil
}
