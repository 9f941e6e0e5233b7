// Command maintain runs the periodic retention and flake-detection passes
// against a running ventifact database: one small binary that repeats its
// work on a fixed interval until its context is cancelled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"github.com/electron/ventifact/cache"
	"github.com/electron/ventifact/config"
	"github.com/electron/ventifact/flake"
	"github.com/electron/ventifact/internal/now"
	"github.com/electron/ventifact/internal/sklog"
	"github.com/electron/ventifact/retention"
)

const maxSQLConnections = 8

func main() {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Runs retention and flake-detection passes against the ventifact database on a fixed interval.",
		RunE:  run,
	}
	if err := cmd.Execute(); err != nil {
		sklog.Fatalf("maintain: %s", err)
	}
}

func run(*cobra.Command, []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := mustConnect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.RedisURL != "" {
		bc, err := cache.New(ctx, cache.Config{RedisURL: cfg.RedisURL, TTL: cfg.TestRunLifetime})
		if err != nil {
			sklog.Warningf("maintain: blueprint cache disabled, continuing without it: %s", err)
		} else {
			defer bc.Close()
		}
	}

	retentionStore := retention.New(db)
	flakeStore := flake.New(db)

	sklog.Infof("maintain: starting periodic pass every %s (test-run lifetime %s, merged-PR lifetime %s)",
		cfg.MaintenanceInterval, cfg.TestRunLifetime, cfg.MergedPRLifetime)
	repeatCtx(ctx, cfg.MaintenanceInterval, func(ctx context.Context) {
		runPass(ctx, retentionStore, flakeStore, cfg.TestRunLifetime, cfg.MergedPRLifetime)
	})
	return nil
}

func runPass(ctx context.Context, retentionStore *retention.Store, flakeStore *flake.Store, testRunLifetime, mergedPRLifetime time.Duration) {
	watermark := now.Now(ctx).Add(-testRunLifetime)

	flakeWatermark := watermark
	if last, ok, err := flakeStore.LatestFlakeWatermark(ctx); err != nil {
		sklog.Warningf("maintain: could not read latest flake watermark, falling back to retention cutoff: %s", err)
	} else if ok && last.After(watermark) {
		flakeWatermark = last
	}

	inserted, err := flakeStore.MarkFlakesSince(ctx, flakeWatermark)
	if err != nil {
		sklog.Errorf("maintain: flake detection failed: %s", err)
	} else {
		sklog.Infof("maintain: flake detection inserted %d rows since %s", inserted, flakeWatermark)
	}

	deleted, err := retentionStore.PurgeRunsBefore(ctx, watermark)
	if err != nil {
		sklog.Errorf("maintain: retention purge failed: %s", err)
	} else {
		sklog.Infof("maintain: retention purge deleted %d test runs older than %s", deleted, watermark)
	}

	prWatermark := now.Now(ctx).Add(-mergedPRLifetime)
	deletedPRs, err := retentionStore.PurgePRsBefore(ctx, prWatermark)
	if err != nil {
		sklog.Errorf("maintain: PR purge failed: %s", err)
		return
	}
	sklog.Infof("maintain: PR purge deleted %d PRs merged before %s", deletedPRs, prWatermark)
}

// repeatCtx calls f every period until ctx is cancelled, running the first
// call immediately rather than waiting out the first tick.
func repeatCtx(ctx context.Context, period time.Duration, f func(context.Context)) {
	f(ctx)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f(ctx)
		}
	}
}

func mustConnect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	conf, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	conf.MaxConns = maxSQLConnections
	db, err := pgxpool.ConnectConfig(ctx, conf)
	if err != nil {
		return nil, err
	}
	sklog.Infof("maintain: connected to database")
	return db, nil
}
