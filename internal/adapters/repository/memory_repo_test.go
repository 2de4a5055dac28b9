package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-concierge/internal/core/domain"
)

func TestMemoryRepository_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) store { return NewMemoryRepository() })
}

func TestMemoryRepository_WebhookPurgeKeepsUnprocessed(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	old := time.Now().Add(-8 * 24 * time.Hour)

	processed := &domain.WebhookLog{Platform: "telegram", Status: domain.WebhookStatusPending, CreatedAt: old}
	failed := &domain.WebhookLog{Platform: "telegram", Status: domain.WebhookStatusPending, CreatedAt: old}
	fresh := &domain.WebhookLog{Platform: "telegram", Status: domain.WebhookStatusPending, CreatedAt: time.Now()}
	for _, l := range []*domain.WebhookLog{processed, failed, fresh} {
		require.NoError(t, r.SaveLog(ctx, l))
	}
	require.NoError(t, r.UpdateStatus(ctx, processed.ID, domain.WebhookStatusProcessed, nil))
	msg := "boom"
	require.NoError(t, r.UpdateStatus(ctx, failed.ID, domain.WebhookStatusFailed, &msg))
	require.NoError(t, r.UpdateStatus(ctx, fresh.ID, domain.WebhookStatusProcessed, nil))

	purged, err := r.PurgeProcessed(ctx, time.Now().Add(-7*24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	logs := r.WebhookLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, failed.ID, logs[0].ID)
	assert.Equal(t, "boom", *logs[0].ErrorLog)
	assert.Equal(t, fresh.ID, logs[1].ID)
}

func TestMemoryRepository_ClaimExpires(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now()
	r.now = func() time.Time { return now }

	ok, err := r.Claim(ctx, "mid.1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = r.Claim(ctx, "mid.1", time.Minute)
	assert.False(t, ok, "second delivery of the same id")

	now = now.Add(2 * time.Minute)
	ok, _ = r.Claim(ctx, "mid.1", time.Minute)
	assert.True(t, ok, "claim expired")

	require.NoError(t, r.Release(ctx, "mid.1"))
	ok, _ = r.Claim(ctx, "mid.1", time.Minute)
	assert.True(t, ok, "released claim can be taken again")
}

func TestMemoryRepository_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.Claim(ctx, "tg:42:77", time.Minute)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestConversationID_Deterministic(t *testing.T) {
	a, b := "123", "456"
	assert.Equal(t, ConversationID(domain.ChannelTelegram, &a), ConversationID(domain.ChannelTelegram, &a))
	assert.NotEqual(t, ConversationID(domain.ChannelTelegram, &a), ConversationID(domain.ChannelTelegram, &b))
	assert.NotEqual(t, ConversationID(domain.ChannelTelegram, &a), ConversationID(domain.ChannelWhatsApp, &a))
	assert.Len(t, ConversationID(domain.ChannelDashboard, nil), 36)
}

func TestNextTimestamp_StrictlyIncreasing(t *testing.T) {
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, last.Add(time.Microsecond), nextTimestamp(last, last))
	assert.Equal(t, last.Add(time.Microsecond), nextTimestamp(last.Add(-time.Hour), last))
	assert.Equal(t, last.Add(time.Second), nextTimestamp(last.Add(time.Second), last))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schemaSQL)
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS conversations")
	assert.Contains(t, stmts[1], "ON DELETE CASCADE")
}
