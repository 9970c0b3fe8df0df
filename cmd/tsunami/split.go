package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvilelaf/tsunami/internal/compose"
)

func newSplitCmd() *cobra.Command {
	var budget int
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split text from stdin into a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text := strings.TrimSpace(string(raw))
			out := cmd.OutOrStdout()
			if compose.WeightedLength(text) <= budget {
				fmt.Fprintln(out, text)
				return nil
			}
			thread, ok := compose.SplitThread(text, budget)
			if !ok {
				return errors.New("text cannot be split at sentence boundaries within the budget")
			}
			for i, post := range thread {
				if i > 0 {
					fmt.Fprintln(out, "---")
				}
				fmt.Fprintf(out, "%s\n", post)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&budget, "budget", compose.DefaultBudget, "weighted length budget per post")
	return cmd
}
