// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"hotel-concierge/internal/core/domain"
)

// ConversationFilter narrows List results
type ConversationFilter struct {
	VisibleOnly bool // only conversations surfaced to the operator queue
	Limit       int  // 0 = adapter default
}

// ConversationRepository handles conversation state
type ConversationRepository interface {
	// GetByID returns domain.ErrConversationNotFound for unknown ids
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)

	// GetOrCreate resolves the conversation for (channel, external identity).
	// Concurrent first contacts from the same identity resolve to one row.
	// created reports whether this call inserted it.
	GetOrCreate(ctx context.Context, channel domain.Channel, externalID *string) (conv *domain.Conversation, created bool, err error)

	// Update is an atomic read-modify-write of one conversation. fn receives a
	// private copy; returning an error aborts without writing. last_updated is
	// advanced on every successful write.
	Update(ctx context.Context, id string, fn func(conv *domain.Conversation) error) (*domain.Conversation, error)

	// List returns conversations, most recently updated first
	List(ctx context.Context, filter ConversationFilter) ([]*domain.Conversation, error)

	// Purge deletes a conversation and its message log (administrative only)
	Purge(ctx context.Context, id string) error
}

// MessageRepository handles the append-only message log
type MessageRepository interface {
	// Append stores msg, assigning ID and a CreatedAt strictly greater than
	// every earlier message of the conversation. It also records the body as
	// the conversation's latest message. A second message with the same
	// non-nil ExternalMsgID in one conversation fails with
	// domain.ErrDuplicateMessage.
	Append(ctx context.Context, msg *domain.Message) error

	// Recent returns up to limit messages, most recent first, skipping excludeID
	Recent(ctx context.Context, conversationID string, limit int, excludeID int64) ([]*domain.Message, error)

	// History returns up to limit messages in chronological order (0 = all)
	History(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)
}

// WebhookRepository handles persistence of webhook audit logs
// All webhooks are logged for audit and replay
type WebhookRepository interface {
	// SaveLog persists a webhook event to the audit log and sets log.ID
	SaveLog(ctx context.Context, log *domain.WebhookLog) error

	// UpdateStatus tracks lifecycle: pending -> processed/failed
	UpdateStatus(ctx context.Context, id int64, status string, errLog *string) error

	// PurgeProcessed deletes up to limit processed logs created before cutoff
	PurgeProcessed(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// DedupRepository handles deduplication of webhook events using cache
type DedupRepository interface {
	// Claim atomically records eventID for ttl. It reports false when the id
	// is already claimed, so of two concurrent deliveries exactly one proceeds.
	Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// Release forgets a claim whose processing failed, so a redelivery is retried
	Release(ctx context.Context, eventID string) error
}

// SettingsRepository stores process-wide switches that survive restarts
type SettingsRepository interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
}

// ConversationLocker serializes work on one conversation across workers.
// Unrelated conversations never contend.
type ConversationLocker interface {
	// Lock blocks until the conversation is held or ctx ends
	Lock(ctx context.Context, conversationID string) (unlock func(), err error)
}
