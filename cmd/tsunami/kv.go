package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvilelaf/tsunami/internal/config"
	"github.com/dvilelaf/tsunami/internal/kvstore"
	envconfig "github.com/dvilelaf/tsunami/pkg/config"
)

func newKVCmd() *cobra.Command {
	kv := &cobra.Command{Use: "kv", Short: "Inspect or edit the cursor store"}
	kv.AddCommand(&cobra.Command{
		Use:   "get <key>...",
		Short: "Print stored values as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			data, err := store.Read(cmd.Context(), args...)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		},
	})
	kv.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Upsert one value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Write(cmd.Context(), map[string]string{args[0]: args[1]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
			return nil
		},
	})
	return kv
}

func openStore(cmd *cobra.Command) (*kvstore.Store, error) {
	logger := newLogger()
	envconfig.LoadEnv(logger)
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return kvstore.Open(cmd.Context(), cfg.Store, logger)
}
