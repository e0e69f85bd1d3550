// Package main implements the chalkline-sweep tool: a one-shot retention
// sweep for cron-driven deployments that do not run the sweep daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/chalkline/chalkline/internal/compliance"
	"github.com/chalkline/chalkline/internal/config"
	"github.com/chalkline/chalkline/internal/retention"
	"github.com/chalkline/chalkline/internal/store"
)

func main() {
	var (
		configFile    string
		dataDir       string
		retentionDays int
		timeout       time.Duration
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.IntVar(&retentionDays, "retention-days", 0, "Override the retention window in days")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Overall sweep timeout")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "chalkline-sweep - one-shot retention sweep\n\n")
		fmt.Fprintf(os.Stderr, "Usage: chalkline-sweep [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	events, err := store.NewEventStore(cfg.StorePath())
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	defer events.Close()

	profile := compliance.NewProfile()
	if retentionDays > 0 {
		profile.Update(compliance.ProfileUpdate{RetentionDays: &retentionDays})
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sweeper := retention.NewSweeper(events, profile, cfg.Retention.Interval, cfg.Capture.MaxStoredEvents)
	if err := sweeper.RunSweep(ctx); err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	log.Printf("Sweep complete: window=%v cap=%d", profile.RetentionWindow(), cfg.Capture.MaxStoredEvents)
}

func loadConfig(configFile, dataDir string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	return cfg, nil
}
