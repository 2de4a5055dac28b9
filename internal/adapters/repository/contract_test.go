package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

// store is what every conversation store must provide
type store interface {
	ports.ConversationRepository
	ports.MessageRepository
	ports.WebhookRepository
	ports.SettingsRepository
}

// runStoreContract exercises behaviour shared by the memory and MariaDB stores
func runStoreContract(t *testing.T, newStore func(t *testing.T) store) {
	ctx := context.Background()

	t.Run("GetOrCreate is idempotent per identity", func(t *testing.T) {
		s := newStore(t)
		ext := "+15550001111-" + t.Name()

		first, created, err := s.GetOrCreate(ctx, domain.ChannelWhatsApp, &ext)
		require.NoError(t, err)
		assert.True(t, created)
		assert.True(t, first.AIEnabled())
		assert.False(t, first.Visible)
		assert.Nil(t, first.AssignedAgent())

		again, created, err := s.GetOrCreate(ctx, domain.ChannelWhatsApp, &ext)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		other, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &ext)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID, "channel is part of the identity")
	})

	t.Run("concurrent first contact creates one conversation", func(t *testing.T) {
		s := newStore(t)
		ext := "race-" + t.Name()

		var wg sync.WaitGroup
		ids := make([]string, 8)
		creations := make([]bool, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conv, created, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &ext)
				assert.NoError(t, err)
				ids[i] = conv.ID
				creations[i] = created
			}(i)
		}
		wg.Wait()

		n := 0
		for i := range ids {
			assert.Equal(t, ids[0], ids[i])
			if creations[i] {
				n++
			}
		}
		assert.Equal(t, 1, n)
	})

	t.Run("Update round-trips handoff and booking", func(t *testing.T) {
		s := newStore(t)
		ext := "ig-" + t.Name()
		conv, _, err := s.GetOrCreate(ctx, domain.ChannelInstagram, &ext)
		require.NoError(t, err)

		dates := domain.DateRange{
			CheckIn:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			CheckOut: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		}
		_, err = s.Update(ctx, conv.ID, func(c *domain.Conversation) error {
			c.Booking = domain.AwaitingGuests(dates)
			c.Handoff, _ = c.Handoff.Claim("alice")
			c.Visible = true
			return nil
		})
		require.NoError(t, err)

		got, err := s.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Booking)
		assert.Equal(t, domain.PhaseAwaitingGuests, got.Booking.Phase)
		assert.True(t, dates.CheckIn.Equal(got.Booking.Dates.CheckIn))
		assert.Equal(t, domain.HandoffHuman, got.Handoff.Phase)
		assert.Equal(t, "alice", *got.AssignedAgent())
		assert.True(t, got.Visible)
		assert.False(t, got.UpdatedAt.Before(conv.UpdatedAt))
	})

	t.Run("Update aborts when fn fails", func(t *testing.T) {
		s := newStore(t)
		ext := "abort-" + t.Name()
		conv, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &ext)
		require.NoError(t, err)

		_, err = s.Update(ctx, conv.ID, func(c *domain.Conversation) error {
			c.Visible = true
			return domain.ErrOperatorConflict
		})
		assert.ErrorIs(t, err, domain.ErrOperatorConflict)

		got, err := s.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		assert.False(t, got.Visible)
	})

	t.Run("Update serializes concurrent writers", func(t *testing.T) {
		s := newStore(t)
		ext := "counter-" + t.Name()
		conv, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &ext)
		require.NoError(t, err)

		// Each writer escalates only if nobody did before; exactly one must win
		var mu sync.Mutex
		fired := 0
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won := false
				_, err := s.Update(ctx, conv.ID, func(c *domain.Conversation) error {
					h, ok := c.Handoff.Escalate()
					c.Handoff = h
					won = ok
					return nil
				})
				assert.NoError(t, err)
				if won {
					mu.Lock()
					fired++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, fired)
	})

	t.Run("unknown ids", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetByID(ctx, "does-not-exist")
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
		_, err = s.Update(ctx, "does-not-exist", func(*domain.Conversation) error { return nil })
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
		assert.ErrorIs(t, s.Purge(ctx, "does-not-exist"), domain.ErrConversationNotFound)
	})

	t.Run("messages are strictly ordered", func(t *testing.T) {
		s := newStore(t)
		ext := "log-" + t.Name()
		conv, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &ext)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Append(ctx, &domain.Message{
					ConversationID: conv.ID,
					Sender:         domain.SenderUser,
					Body:           "hi",
				}))
			}()
		}
		wg.Wait()

		log, err := s.History(ctx, conv.ID, 0)
		require.NoError(t, err)
		require.Len(t, log, 20)
		for i := 1; i < len(log); i++ {
			assert.True(t, log[i].CreatedAt.After(log[i-1].CreatedAt), "message %d not after %d", i, i-1)
		}
	})

	t.Run("Recent is newest first and skips the current message", func(t *testing.T) {
		s := newStore(t)
		ext := "recent-" + t.Name()
		conv, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &ext)
		require.NoError(t, err)

		var last *domain.Message
		for _, body := range []string{"one", "two", "three", "four"} {
			last = &domain.Message{ConversationID: conv.ID, Sender: domain.SenderUser, Body: body}
			require.NoError(t, s.Append(ctx, last))
		}

		recent, err := s.Recent(ctx, conv.ID, 2, last.ID)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "three", recent[0].Body)
		assert.Equal(t, "two", recent[1].Body)

		got, err := s.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "four", got.LastText)
	})

	t.Run("List filters visible conversations", func(t *testing.T) {
		s := newStore(t)
		hidden, visible := "hidden-"+t.Name(), "visible-"+t.Name()
		_, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &hidden)
		require.NoError(t, err)
		conv, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &visible)
		require.NoError(t, err)
		_, err = s.Update(ctx, conv.ID, func(c *domain.Conversation) error {
			c.Visible = true
			return nil
		})
		require.NoError(t, err)

		list, err := s.List(ctx, ports.ConversationFilter{VisibleOnly: true})
		require.NoError(t, err)
		ids := make([]string, 0, len(list))
		for _, c := range list {
			assert.True(t, c.Visible)
			ids = append(ids, c.ID)
		}
		assert.Contains(t, ids, conv.ID)
	})

	t.Run("Purge removes conversation and messages", func(t *testing.T) {
		s := newStore(t)
		ext := "purge-" + t.Name()
		conv, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &ext)
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, &domain.Message{ConversationID: conv.ID, Sender: domain.SenderUser, Body: "bye"}))

		require.NoError(t, s.Purge(ctx, conv.ID))
		_, err = s.GetByID(ctx, conv.ID)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
		log, err := s.History(ctx, conv.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, log)
	})

	t.Run("Append rejects a replayed platform message id", func(t *testing.T) {
		s := newStore(t)
		ext := "replay-" + t.Name()
		conv, _, err := s.GetOrCreate(ctx, domain.ChannelTelegram, &ext)
		require.NoError(t, err)

		msgID := "tg:" + ext + ":77"
		first := &domain.Message{ConversationID: conv.ID, Sender: domain.SenderUser, Body: "book a room", ExternalMsgID: &msgID}
		require.NoError(t, s.Append(ctx, first))
		replay := &domain.Message{ConversationID: conv.ID, Sender: domain.SenderUser, Body: "book a room", ExternalMsgID: &msgID}
		assert.ErrorIs(t, s.Append(ctx, replay), domain.ErrDuplicateMessage)

		// Messages without a platform id never collide
		require.NoError(t, s.Append(ctx, &domain.Message{ConversationID: conv.ID, Sender: domain.SenderAI, Body: "a"}))
		require.NoError(t, s.Append(ctx, &domain.Message{ConversationID: conv.ID, Sender: domain.SenderAI, Body: "b"}))

		log, err := s.History(ctx, conv.ID, 0)
		require.NoError(t, err)
		assert.Len(t, log, 3)
	})

	t.Run("settings default and persist", func(t *testing.T) {
		s := newStore(t)
		key := "test_switch_" + time.Now().Format("150405.000000")

		v, err := s.GetBool(ctx, key, true)
		require.NoError(t, err)
		assert.True(t, v)

		require.NoError(t, s.SetBool(ctx, key, false))
		v, err = s.GetBool(ctx, key, true)
		require.NoError(t, err)
		assert.False(t, v)
	})
}
