package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/switchboard/pkg/store"
)

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			v, err := store.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database ready at %s (schema v%d)\n", cfg.DBPath, v)
			return nil
		},
	}
}
