package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sahayak-ai/sahayak/internal/retrieval"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [pages.jsonl]",
		Short: "Load pre-extracted textbook pages into the retrieval corpus",
		Long: "Reads newline-delimited JSON records of the form " +
			`{"content": "...", "source": "class|subject|book|language|page"}, ` +
			"embeds each page in passage mode, and appends it to the corpus.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			_, embedder, err := buildProvider(cfg, nil)
			if err != nil {
				return err
			}
			if embedder == nil {
				return fmt.Errorf("ingest requires an embedding-capable provider")
			}

			store, err := retrieval.OpenSQLStore(cfg.Retrieval.CorpusPath)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := retrieval.Ingest(context.Background(), f, embedder, store)
			if err != nil {
				return fmt.Errorf("ingested %d pages before failing: %w", n, err)
			}
			fmt.Printf("ingested %d pages into %s\n", n, cfg.Retrieval.CorpusPath)
			return nil
		},
	}
}
