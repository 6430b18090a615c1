// Package main provides the CLI entry point for Sahayak, a
// classroom-support assistant for teachers in rural Indian schools.
//
// # Basic Usage
//
// Start the HTTP server:
//
//	sahayak serve --config sahayak.yaml
//
// Ask a one-shot question against the textbook corpus:
//
//	sahayak ask "what is photosynthesis?" --class 5 --subject science
//
// Load pre-extracted textbook pages into the retrieval corpus:
//
//	sahayak ingest pages.jsonl
//
// Delete sessions older than the retention window:
//
//	sahayak sweep
//
// # Environment Variables
//
//   - SAHAYAK_CONFIG: Path to configuration file (default: sahayak.yaml)
//   - OPENAI_API_KEY: OpenAI API key
//   - ANTHROPIC_API_KEY: Anthropic API key for the fallback provider
//   - STORE_PATH, CORPUS_PATH, MODEL_NAME, ...: per-key overrides
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sahayak-ai/sahayak/internal/config"
	"github.com/sahayak-ai/sahayak/internal/observability"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "sahayak",
		Short: "Classroom-support assistant for teachers",
		Long: "Sahayak turns a teacher's request, in any of ~20 Indian languages, into a " +
			"validated single-action response: a hands-on activity, a crisis intervention, " +
			"motivation, or structured feedback on a recorded lesson.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to configuration file")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newIngestCmd(),
		newSweepCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SAHAYAK_CONFIG"); p != "" {
		return p
	}
	return "sahayak.yaml"
}

// loadConfig loads configuration, tolerating a missing default config
// file (defaults + environment apply).
func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); err != nil && path == "sahayak.yaml" {
		path = ""
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sahayak %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
