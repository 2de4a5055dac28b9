package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/disk"

	"hotel-concierge/internal/core/ports"
)

// WatchdogConfig tunes the audit-log purge
type WatchdogConfig struct {
	Schedule      string        // cron spec, e.g. "@every 10m"
	DiskPath      string        // filesystem holding the database
	DiskThreshold float64       // purge only above this used percentage
	Retention     time.Duration // keep processed webhook logs at least this long
	BatchSize     int
}

// Watchdog purges old processed webhook audit logs when the disk fills up.
// Purge rule, all three must hold: disk usage above threshold, row older than
// retention, row processed. The message log is never purged here.
type Watchdog struct {
	webhooks ports.WebhookRepository
	cfg      WatchdogConfig
	usage    func(ctx context.Context, path string) (float64, error)
	cron     *cron.Cron
}

// NewWatchdog creates a watchdog reading disk usage through gopsutil
func NewWatchdog(webhooks ports.WebhookRepository, cfg WatchdogConfig) *Watchdog {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.DiskThreshold <= 0 {
		cfg.DiskThreshold = 70
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Watchdog{webhooks: webhooks, cfg: cfg, usage: diskUsage}
}

func diskUsage(ctx context.Context, path string) (float64, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}

// Start schedules RunOnce on the configured cron spec
func (w *Watchdog) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(w.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := w.RunOnce(ctx, false); err != nil {
			slog.Error("Watchdog run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule watchdog %q: %w", w.cfg.Schedule, err)
	}
	c.Start()
	w.cron = c
	slog.Info("Watchdog started", "schedule", w.cfg.Schedule, "disk_path", w.cfg.DiskPath)
	return nil
}

// Stop halts the schedule and waits for a running purge to finish
func (w *Watchdog) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// RunOnce checks disk usage and purges one batch when needed. force skips the
// disk check.
func (w *Watchdog) RunOnce(ctx context.Context, force bool) (int64, error) {
	if !force {
		used, err := w.usage(ctx, w.cfg.DiskPath)
		if err != nil {
			return 0, fmt.Errorf("read disk usage: %w", err)
		}
		if used < w.cfg.DiskThreshold {
			slog.Debug("Disk usage OK, no purge needed", "used_percent", used)
			return 0, nil
		}
		slog.Warn("Disk usage above threshold, purging processed webhook logs",
			"used_percent", used,
			"threshold", w.cfg.DiskThreshold,
		)
	}

	cutoff := time.Now().Add(-w.cfg.Retention)
	purged, err := w.webhooks.PurgeProcessed(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("purge webhook logs: %w", err)
	}
	slog.Info("Purged old webhook logs", "rows", purged, "cutoff", cutoff)
	return purged, nil
}
