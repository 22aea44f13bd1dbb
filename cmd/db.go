package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/bikeflow/infra/storage"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return err
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}

func openStore(ctx context.Context) (*storage.SQLiteStore, error) {
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Storage.Path, err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
