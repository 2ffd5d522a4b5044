package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fedragon/albumsync/internal/config"
	"github.com/fedragon/albumsync/internal/immich"
	"github.com/fedragon/albumsync/internal/journal"
	"github.com/fedragon/albumsync/internal/metrics"
	"github.com/fedragon/albumsync/internal/sync"
)

func main() {
	app := &cli.App{
		Name:  "albumsync",
		Usage: "synchronize shared Immich albums between peers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the TOML peer table",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "only report missing assets, transfer nothing",
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "path to a bolt file recording completed transfers",
			},
			&cli.StringFlag{
				Name:  "statsd",
				Usage: "statsd address for transfer metrics (e.g. :8125)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	mx := metrics.NoMetrics()
	if addr := c.String("statsd"); addr != "" {
		mx, err = metrics.NewMetrics(addr)
		if err != nil {
			return err
		}
	}
	defer func() {
		if err := mx.Close(); err != nil {
			logger.Warn("Cannot close metrics client", zap.Error(err))
		}
	}()

	var jrnl *journal.Journal
	if path := c.String("journal"); path != "" {
		jrnl, err = journal.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := jrnl.Close(); err != nil {
				logger.Warn("Cannot close journal", zap.Error(err))
			}
		}()
	}

	runner := &sync.Runner{
		Config:  cfg,
		Client:  immich.NewClient(),
		Logger:  logger,
		Metrics: mx,
		Journal: jrnl,
		DryRun:  c.Bool("dry-run"),
	}

	return runner.Run(context.Background())
}
