package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hotel-concierge/internal/adapters/repository"
	"hotel-concierge/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "Creates the conversation, message, webhook log and settings tables. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			setupLogger(cfg)
			if cfg.DB.Driver != config.StoreMariaDB {
				return fmt.Errorf("migrate: nothing to do for the %s store", cfg.DB.Driver)
			}

			db, err := connectMariaDB(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}
