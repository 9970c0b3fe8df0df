package main

import (
	"github.com/spf13/cobra"

	"github.com/dvilelaf/tsunami/pkg/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tsunami",
		Short:         "Agreement-gated social announcements for the Olas ecosystem",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newKVCmd())
	root.AddCommand(newSplitCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newLogger() logging.Logger {
	return logging.NewLoggerWithService("tsunami")
}
