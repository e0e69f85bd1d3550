// Package main implements the unified chalkline agent binary. It can run
// the full pipeline (capture, sync, sweep) or individual services based on
// the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/chalkline/chalkline/internal/app"
	"github.com/chalkline/chalkline/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		endpoint    string
		adminAddr   string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "all", "Service mode: all, capture, sync, sweep")
	flag.StringVar(&endpoint, "endpoint", "", "Collector endpoint for the http transport")
	flag.StringVar(&adminAddr, "admin-addr", "", "Listen address for the local admin server")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Chalkline - Offline-first behavioral analytics agent\n\n")
		fmt.Fprintf(os.Stderr, "Usage: chalkline [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  chalkline --data-dir /var/lib/chalkline\n")
		fmt.Fprintf(os.Stderr, "  chalkline --mode sync --endpoint https://collector.example/v1/batches\n")
		fmt.Fprintf(os.Stderr, "  chalkline --config /etc/chalkline/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CHALKLINE_MODE            Service mode (all, capture, sync, sweep)\n")
		fmt.Fprintf(os.Stderr, "  CHALKLINE_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  CHALKLINE_HASH_SALT       Per-deployment correlation hashing salt\n")
		fmt.Fprintf(os.Stderr, "  CHALKLINE_SYNC_ENDPOINT   Collector endpoint\n")
		fmt.Fprintf(os.Stderr, "  CHALKLINE_STORAGE_TYPE    Object storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("chalkline version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A .env next to the binary is the common deployment shape on managed
	// devices; absence is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir, mode, endpoint, adminAddr)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig layers configuration: file, then environment, then flags.
func loadConfig(configFile, dataDir, mode, endpoint, adminAddr string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if endpoint != "" {
		cfg.Sync.Endpoint = endpoint
	}
	if adminAddr != "" {
		cfg.Admin.Addr = adminAddr
		cfg.Admin.Enabled = true
	}

	return cfg, nil
}

func printBanner(cfg *config.Config) {
	log.Printf("chalkline %s starting", version)
	log.Printf("Configuration:")
	log.Printf("  Mode:      %s", cfg.Mode)
	log.Printf("  Data Dir:  %s", cfg.DataDir)
	log.Printf("  Storage:   %s", cfg.Storage.Type)
	if cfg.ShouldRunSync() {
		log.Printf("  Transport: %s", cfg.Sync.Transport)
		if cfg.Sync.Transport == "http" {
			log.Printf("  Collector: %s", cfg.Sync.Endpoint)
		}
	}
	if cfg.Admin.Enabled {
		log.Printf("  Admin:     %s", cfg.Admin.Addr)
	}
}
