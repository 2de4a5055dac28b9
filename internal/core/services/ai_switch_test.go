package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-concierge/internal/adapters/repository"
	"hotel-concierge/internal/core/domain"
)

func TestAISwitch_DefaultsOnAndPersists(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	events := &recordingBroadcaster{}

	sw, err := NewAISwitch(ctx, repo, events)
	require.NoError(t, err)
	assert.True(t, sw.Enabled())

	require.NoError(t, sw.Set(ctx, false, "alice", "calendar outage"))
	assert.False(t, sw.Enabled())
	status := sw.Status()
	assert.Equal(t, false, status["ai_enabled"])
	assert.Equal(t, "alice", status["changed_by"])
	assert.Equal(t, "calendar outage", status["reason"])
	assert.Contains(t, status, "changed_at")

	updates := events.ofType(domain.EventSettingsUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, SettingAIEnabled, updates[0].Payload["key"])
	assert.Equal(t, false, updates[0].Payload["value"])

	// A restart picks up the stored position
	reloaded, err := NewAISwitch(ctx, repo, nil)
	require.NoError(t, err)
	assert.False(t, reloaded.Enabled())
	require.NoError(t, reloaded.Set(ctx, true, "bob", ""))
	assert.True(t, reloaded.Enabled())
}
