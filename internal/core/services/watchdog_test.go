package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestWatchdog(used float64, usageErr error) (*Watchdog, *MockWebhookRepository) {
	repo := new(MockWebhookRepository)
	w := NewWatchdog(repo, WatchdogConfig{})
	w.usage = func(context.Context, string) (float64, error) { return used, usageErr }
	return w, repo
}

func TestWatchdog_Defaults(t *testing.T) {
	w := NewWatchdog(new(MockWebhookRepository), WatchdogConfig{})
	assert.Equal(t, "@every 10m", w.cfg.Schedule)
	assert.Equal(t, 70.0, w.cfg.DiskThreshold)
	assert.Equal(t, 7*24*time.Hour, w.cfg.Retention)
	assert.Equal(t, 1000, w.cfg.BatchSize)
}

func TestWatchdog_BelowThresholdDoesNothing(t *testing.T) {
	w, repo := newTestWatchdog(42, nil)

	purged, err := w.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, purged)
	repo.AssertNotCalled(t, "PurgeProcessed", mock.Anything, mock.Anything, mock.Anything)
}

func TestWatchdog_AboveThresholdPurgesOldRows(t *testing.T) {
	w, repo := newTestWatchdog(85, nil)
	start := time.Now()

	repo.On("PurgeProcessed", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		age := start.Sub(cutoff)
		return age >= 7*24*time.Hour-time.Minute && age <= 7*24*time.Hour+time.Minute
	}), 1000).Return(int64(12), nil)

	purged, err := w.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(12), purged)
	repo.AssertExpectations(t)
}

func TestWatchdog_ForceSkipsDiskCheck(t *testing.T) {
	w, repo := newTestWatchdog(0, errors.New("no such mount"))
	repo.On("PurgeProcessed", mock.Anything, mock.Anything, 1000).Return(int64(0), nil)

	_, err := w.RunOnce(context.Background(), true)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestWatchdog_Errors(t *testing.T) {
	w, _ := newTestWatchdog(0, errors.New("no such mount"))
	_, err := w.RunOnce(context.Background(), false)
	assert.ErrorContains(t, err, "read disk usage")

	w, repo := newTestWatchdog(99, nil)
	repo.On("PurgeProcessed", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("lock wait timeout"))
	_, err = w.RunOnce(context.Background(), false)
	assert.ErrorContains(t, err, "purge webhook logs")
}

func TestWatchdog_StartRejectsBadSchedule(t *testing.T) {
	w := NewWatchdog(new(MockWebhookRepository), WatchdogConfig{Schedule: "every tuesday"})
	assert.Error(t, w.Start())

	w = NewWatchdog(new(MockWebhookRepository), WatchdogConfig{Schedule: "@every 1h"})
	require.NoError(t, w.Start())
	w.Stop()
}
