package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sahayak-ai/sahayak/internal/retrieval"
)

func newAskCmd() *cobra.Command {
	var class, subject, language string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a factual question against the textbook corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			rt, err := buildRuntime(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer rt.close()

			question := strings.Join(args, " ")
			answer, err := rt.engine.Ask(context.Background(), question, retrieval.Filter{
				Class:    class,
				Subject:  subject,
				Language: language,
			})
			if err != nil {
				return err
			}

			fmt.Println(answer.Text)
			if len(answer.Citations) > 0 {
				fmt.Println("\nSources:")
				for _, c := range answer.Citations {
					fmt.Printf("  - %s\n", retrieval.FormatSource(c))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", "", "restrict to a class (e.g. 5)")
	cmd.Flags().StringVar(&subject, "subject", "", "restrict to a subject")
	cmd.Flags().StringVar(&language, "language", "", "restrict to a corpus language")
	return cmd
}
