package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sahayak-ai/sahayak/internal/memory"
)

func newSweepCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Memory.RetentionDays
			}

			store, err := memory.OpenSQLStore(cfg.Memory.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			mem := memory.New(store, nil, memory.Config{
				SessionCacheMax:    cfg.Memory.SessionCacheMax,
				ContextWindow:      cfg.Memory.ContextWindow,
				SummarizeThreshold: cfg.Memory.SummarizeThreshold,
			})

			swept, err := mem.Sweep(context.Background(), days)
			if err != nil {
				return err
			}
			fmt.Printf("swept %d sessions older than %d days\n", swept, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "override the configured retention age")
	return cmd
}
