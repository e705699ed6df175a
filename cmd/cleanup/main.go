// Command cleanup runs one retention sweep and exits. Meant for cron
// deployments that do not keep the API's in-process sweeper running.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/abdul-hamid-achik/safe/internal/cdn"
	"github.com/abdul-hamid-achik/safe/internal/config"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/paths"
	"github.com/abdul-hamid-achik/safe/internal/thumbs"
	"github.com/abdul-hamid-achik/safe/internal/uploads"
	"github.com/abdul-hamid-achik/safe/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("cleanup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Default()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	p, err := paths.New(cfg.UploadsRoot)
	if err != nil {
		return err
	}
	sdb, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = sdb.Close() }()
	queries := db.New(sdb)

	purger := cdn.NewPurger(cdn.Config{
		ZoneID:         cfg.CFZoneID,
		APIToken:       cfg.CFAPIToken,
		UserServiceKey: cfg.CFUserServiceKey,
		APIKey:         cfg.CFAPIKey,
		Email:          cfg.CFEmail,
		BaseURL:        cfg.Domain,
	})
	defer purger.Shutdown()

	sweeper := &worker.Sweeper{
		Queries: queries,
		Deleter: &uploads.Deleter{
			Queries: queries,
			Paths:   p,
			Thumbs:  thumbs.NewGenerator(p, cfg.ThumbExtensions, cfg.ThumbPlaceholder),
			Purger:  purger,
		},
		Interval: cfg.SweepInterval,
		Verbose:  true,
	}

	removed := sweeper.Sweep(ctx)
	log.Info("cleanup finished", "removed", removed)
	return nil
}
