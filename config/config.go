// Package config loads the maintainer's runtime configuration from the
// environment: every setting has an env var, and AutomaticEnv means a
// deployment never needs a config file on disk.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the maintainer's full runtime configuration.
type Config struct {
	// DatabaseURL is a postgres:// connection string for the CockroachDB
	// cluster holding the dedup graph.
	DatabaseURL string
	// RedisURL, if non-empty, enables the blueprint memoization cache.
	// Empty disables it; the maintainer runs correctly without it.
	RedisURL string
	// MergedPRLifetime is how long a PR row is kept after it merges before
	// retention.PurgePRsBefore deletes it.
	MergedPRLifetime time.Duration
	// TestRunLifetime is the retention window for non-PR TestRuns.
	TestRunLifetime time.Duration
	// MaintenanceInterval is how often the maintainer repeats its
	// retention and flake-detection pass.
	MaintenanceInterval time.Duration
}

// Load reads configuration from the environment, applying the same
// defaults a local development run would want.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VENTIFACT")
	v.AutomaticEnv()

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("merged_pr_lifetime", "8760h") // 1 year
	v.SetDefault("test_run_lifetime", "720h")   // 30 days
	v.SetDefault("maintenance_interval", "1h")

	if err := v.BindEnv("database_url"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("redis_url"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("merged_pr_lifetime"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("test_run_lifetime"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("maintenance_interval"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		DatabaseURL:         v.GetString("database_url"),
		RedisURL:            v.GetString("redis_url"),
		MergedPRLifetime:    v.GetDuration("merged_pr_lifetime"),
		TestRunLifetime:     v.GetDuration("test_run_lifetime"),
		MaintenanceInterval: v.GetDuration("maintenance_interval"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("VENTIFACT_DATABASE_URL is required")
	}
	return cfg, nil
}
