package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

// Ensure MemoryRepository implements the required interfaces
var (
	_ ports.ConversationRepository = (*MemoryRepository)(nil)
	_ ports.MessageRepository      = (*MemoryRepository)(nil)
	_ ports.WebhookRepository      = (*MemoryRepository)(nil)
	_ ports.DedupRepository        = (*MemoryRepository)(nil)
	_ ports.SettingsRepository     = (*MemoryRepository)(nil)
)

// MemoryRepository keeps everything in process memory. It backs dev mode and
// tests, with the same atomicity guarantees as the MariaDB repository.
type MemoryRepository struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	messages      map[string][]*domain.Message
	webhooks      []*domain.WebhookLog
	dedup         map[string]time.Time
	settings      map[string]bool
	nextMsgID     int64
	nextLogID     int64
	now           func() time.Time
}

// NewMemoryRepository creates an empty store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string][]*domain.Message),
		dedup:         make(map[string]time.Time),
		settings:      make(map[string]bool),
		now:           time.Now,
	}
}

// ============================================================================
// ConversationRepository Implementation
// ============================================================================

// GetByID returns a copy of the stored conversation
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// GetOrCreate resolves or inserts the conversation of an external identity
func (r *MemoryRepository) GetOrCreate(_ context.Context, channel domain.Channel, externalID *string) (*domain.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ConversationID(channel, externalID)
	if conv, ok := r.conversations[id]; ok {
		return conv.Clone(), false, nil
	}

	now := r.now().UTC()
	conv := &domain.Conversation{
		ID:        id,
		Channel:   channel,
		Handoff:   domain.Automated(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if externalID != nil {
		ext := *externalID
		conv.ExternalID = &ext
	}
	r.conversations[id] = conv
	return conv.Clone(), true, nil
}

// Update applies fn to a copy and stores it if fn succeeds
func (r *MemoryRepository) Update(_ context.Context, id string, fn func(*domain.Conversation) error) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.conversations[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	working := stored.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	// Identity and channel are immutable
	working.ID, working.Channel, working.ExternalID = stored.ID, stored.Channel, stored.ExternalID
	working.UpdatedAt = nextTimestamp(r.now(), stored.UpdatedAt)
	r.conversations[id] = working
	return working.Clone(), nil
}

// List returns conversations, most recently updated first
func (r *MemoryRepository) List(_ context.Context, filter ports.ConversationFilter) ([]*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Conversation, 0, len(r.conversations))
	for _, conv := range r.conversations {
		if filter.VisibleOnly && !conv.Visible {
			continue
		}
		out = append(out, conv.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Purge deletes a conversation and its messages
func (r *MemoryRepository) Purge(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[id]; !ok {
		return domain.ErrConversationNotFound
	}
	delete(r.conversations, id)
	delete(r.messages, id)
	return nil
}

// ============================================================================
// MessageRepository Implementation
// ============================================================================

// Append stores a message with a strictly increasing timestamp
func (r *MemoryRepository) Append(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[msg.ConversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}

	log := r.messages[msg.ConversationID]
	if msg.ExternalMsgID != nil {
		for _, m := range log {
			if m.ExternalMsgID != nil && *m.ExternalMsgID == *msg.ExternalMsgID {
				return domain.ErrDuplicateMessage
			}
		}
	}

	var last time.Time
	if len(log) > 0 {
		last = log[len(log)-1].CreatedAt
	}
	r.nextMsgID++
	msg.ID = r.nextMsgID
	msg.CreatedAt = nextTimestamp(r.now(), last)

	stored := *msg
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], &stored)

	conv.LastText = msg.Body
	conv.UpdatedAt = nextTimestamp(r.now(), conv.UpdatedAt)
	return nil
}

// Recent returns up to limit messages, most recent first
func (r *MemoryRepository) Recent(_ context.Context, conversationID string, limit int, excludeID int64) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.messages[conversationID]
	out := make([]*domain.Message, 0, limit)
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		if log[i].ID == excludeID {
			continue
		}
		m := *log[i]
		out = append(out, &m)
	}
	return out, nil
}

// History returns messages in chronological order
func (r *MemoryRepository) History(_ context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.messages[conversationID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]*domain.Message, 0, len(log))
	for _, m := range log {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// ============================================================================
// WebhookRepository Implementation
// ============================================================================

// SaveLog appends an audit row
func (r *MemoryRepository) SaveLog(_ context.Context, log *domain.WebhookLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextLogID++
	log.ID = r.nextLogID
	stored := *log
	r.webhooks = append(r.webhooks, &stored)
	return nil
}

// UpdateStatus sets the lifecycle status of an audit row
func (r *MemoryRepository) UpdateStatus(_ context.Context, id int64, status string, errLog *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.webhooks {
		if l.ID == id {
			l.Status = status
			l.ErrorLog = errLog
			return nil
		}
	}
	return nil
}

// PurgeProcessed deletes processed rows older than cutoff
func (r *MemoryRepository) PurgeProcessed(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	kept := r.webhooks[:0]
	for _, l := range r.webhooks {
		if l.Status == domain.WebhookStatusProcessed && l.CreatedAt.Before(cutoff) && (limit <= 0 || purged < int64(limit)) {
			purged++
			continue
		}
		kept = append(kept, l)
	}
	r.webhooks = kept
	return purged, nil
}

// WebhookLogs returns a snapshot of the audit log
func (r *MemoryRepository) WebhookLogs() []domain.WebhookLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.WebhookLog, 0, len(r.webhooks))
	for _, l := range r.webhooks {
		out = append(out, *l)
	}
	return out
}

// ============================================================================
// DedupRepository Implementation
// ============================================================================

// Claim records eventID for ttl unless an unexpired claim exists
func (r *MemoryRepository) Claim(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expires, ok := r.dedup[eventID]; ok && !now.After(expires) {
		return false, nil
	}
	r.dedup[eventID] = now.Add(ttl)
	return true, nil
}

// Release forgets a claim
func (r *MemoryRepository) Release(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.dedup, eventID)
	return nil
}

// ============================================================================
// SettingsRepository Implementation
// ============================================================================

// GetBool returns a stored switch or def
func (r *MemoryRepository) GetBool(_ context.Context, key string, def bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.settings[key]; ok {
		return v, nil
	}
	return def, nil
}

// SetBool stores a switch
func (r *MemoryRepository) SetBool(_ context.Context, key string, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings[key] = value
	return nil
}
