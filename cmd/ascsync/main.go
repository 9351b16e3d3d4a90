// ascsync mirrors TestFlight crash and screenshot feedback submissions
// into a local SQLite database for offline triage.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ascsync/internal/asc"
	"github.com/mschirtzinger/ascsync/internal/auth"
	"github.com/mschirtzinger/ascsync/internal/config"
	"github.com/mschirtzinger/ascsync/internal/logging"
	"github.com/mschirtzinger/ascsync/internal/store"
)

var (
	flagDataDir string
	flagFormat  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ascsync",
	Short: "Sync TestFlight crash reports and feedback to a local database",
	Long: `ascsync pulls crash submissions and screenshot feedback from the
App Store Connect API into a local SQLite database, downloads their
crash logs and screenshots, and tracks a triage status for each record.

Data lives in a data directory (./asc-crashes or ~/.asc-crashes) holding
the config file, the database, and the downloaded attachments.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ./asc-crashes or ~/.asc-crashes)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dataDir resolves the data directory for this invocation.
func dataDir() string {
	dir, err := config.ResolveDataDir(flagDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return dir
}

// newLogger builds the run logger rooted at the data directory.
func newLogger(dir string) *slog.Logger {
	return logging.Setup(dir, flagVerbose)
}

// openStore opens the database inside the data directory.
func openStore(dir string) *store.Store {
	st, err := store.Open(config.DatabasePath(dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

// loadConfig reads and validates config.toml.
func loadConfig(dir string) *config.Config {
	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newClient builds an authenticated API client from the config.
func newClient(dir string, cfg *config.Config, logger *slog.Logger) *asc.Client {
	pem, err := cfg.PrivateKeyPEM(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	signer, err := auth.NewSigner(cfg.API.IssuerID, cfg.API.KeyID, pem)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return asc.New(signer, asc.Config{Logger: logger})
}
