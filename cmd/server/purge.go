package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hotel-concierge/internal/adapters/repository"
	"hotel-concierge/internal/config"
	"hotel-concierge/internal/core/services"
)

func newPurgeCmd() *cobra.Command {
	var (
		retention time.Duration
		batch     int
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old processed webhook logs",
		Long: `Runs one watchdog pass by hand.

Only processed webhook audit rows older than the retention are deleted; failed
rows and the message log are kept. Without --force the pass is skipped while
disk usage is below the watchdog threshold.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			setupLogger(cfg)
			if cfg.DB.Driver != config.StoreMariaDB {
				return fmt.Errorf("purge: the %s store keeps no audit log on disk", cfg.DB.Driver)
			}

			db, err := connectMariaDB(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			defer db.Close()

			wcfg := watchdogConfig(cfg)
			if cmd.Flags().Changed("retention") {
				wcfg.Retention = retention
			}
			if cmd.Flags().Changed("batch") {
				wcfg.BatchSize = batch
			}
			wd := services.NewWatchdog(repository.NewMariaDBRepository(db), wcfg)

			purged, err := wd.RunOnce(cmd.Context(), force)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d webhook log rows\n", purged)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 7*24*time.Hour, "keep processed rows younger than this")
	cmd.Flags().IntVar(&batch, "batch", 1000, "maximum rows to delete")
	cmd.Flags().BoolVar(&force, "force", false, "purge regardless of disk usage")
	return cmd
}

func watchdogConfig(cfg *config.Config) services.WatchdogConfig {
	return services.WatchdogConfig{
		Schedule:      cfg.Watchdog.Schedule,
		DiskPath:      cfg.Watchdog.DiskPath,
		DiskThreshold: cfg.Watchdog.DiskThreshold,
		Retention:     cfg.Watchdog.Retention,
		BatchSize:     cfg.Watchdog.BatchSize,
	}
}
