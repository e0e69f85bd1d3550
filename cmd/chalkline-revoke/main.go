// Package main implements the chalkline-revoke tool: an offline consent
// withdrawal that purges every locally held event, the journal, and the
// duplicate filter. Use it when the agent is not running; against a running
// agent, POST to its /v1/consent admin endpoint instead.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/chalkline/chalkline/internal/compliance"
	"github.com/chalkline/chalkline/internal/config"
	"github.com/chalkline/chalkline/internal/journal"
	"github.com/chalkline/chalkline/internal/retention"
	"github.com/chalkline/chalkline/internal/store"
)

func main() {
	var (
		configFile string
		dataDir    string
		yes        bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.BoolVar(&yes, "yes", false, "Skip the confirmation prompt")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "chalkline-revoke - withdraw consent and purge local data\n\n")
		fmt.Fprintf(os.Stderr, "Usage: chalkline-revoke [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()

	if !yes && !confirm(cfg.DataDir) {
		fmt.Println("Aborted.")
		os.Exit(1)
	}

	events, err := store.NewEventStore(cfg.StorePath())
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	defer events.Close()

	jnl, err := journal.New(cfg.Capture.JournalDir, cfg.Capture.JournalSegmentSize)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer jnl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	profile := compliance.NewProfile()
	if err := retention.WithdrawConsent(ctx, profile, events, jnl, nil); err != nil {
		log.Fatalf("Withdrawal failed: %v", err)
	}

	if err := persistRevocation(cfg, profile); err != nil {
		log.Fatalf("Purge succeeded but persisting the revoked profile failed: %v", err)
	}
	log.Printf("Consent withdrawn; all local data purged from %s", cfg.DataDir)
}

func confirm(dataDir string) bool {
	fmt.Printf("This permanently deletes all captured data under %s. Continue? [y/N]: ", dataDir)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// persistRevocation writes the revoked profile so an agent started later
// stays off until consent is explicitly re-granted.
func persistRevocation(cfg *config.Config, profile *compliance.Profile) error {
	s := profile.Snapshot()
	data, err := json.MarshalIndent(map[string]interface{}{
		"consent_granted":          s.ConsentGranted,
		"retention_days":           s.RetentionDays,
		"educational_purpose_only": s.EducationalPurposeOnly,
		"updated_at":               s.UpdatedAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cfg.DataDir, "profile.json"), append(data, '\n'), 0600)
}
