// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.WebhookRepository      = (*MariaDBRepository)(nil)
	_ ports.MessageRepository      = (*MariaDBRepository)(nil)
	_ ports.ConversationRepository = (*MariaDBRepository)(nil)
	_ ports.SettingsRepository     = (*MariaDBRepository)(nil)
)

// MariaDBRepository implements persistence operations for MariaDB.
// Per-conversation atomicity comes from SELECT ... FOR UPDATE on the
// conversation row inside a transaction.
type MariaDBRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db:  db,
		now: time.Now,
	}
}

const conversationColumns = `
	id, channel, external_id, ai_enabled, assigned_agent, handoff_notified,
	visible_in_conversations, booking_state, COALESCE(latest_message, ''),
	created_at, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		conv       domain.Conversation
		channel    string
		externalID sql.NullString
		aiEnabled  bool
		assigned   sql.NullString
		notified   bool
		booking    []byte
	)
	err := row.Scan(
		&conv.ID,
		&channel,
		&externalID,
		&aiEnabled,
		&assigned,
		&notified,
		&conv.Visible,
		&booking,
		&conv.LastText,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.Channel = domain.Channel(channel)
	if externalID.Valid {
		conv.ExternalID = &externalID.String
	}
	var agent *string
	if assigned.Valid {
		agent = &assigned.String
	}
	conv.Handoff = domain.HandoffFromColumns(aiEnabled, agent, notified)

	if conv.Booking, err = domain.UnmarshalBooking(booking); err != nil {
		slog.Warn("Discarding unreadable booking state",
			"error", err,
			"conversation_id", conv.ID,
		)
		conv.Booking = nil
	}
	return &conv, nil
}

// ============================================================================
// ConversationRepository Implementation
// ============================================================================

// GetByID retrieves a conversation by id
func (r *MariaDBRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// GetOrCreate resolves the conversation of an external identity. The id is
// derived from (channel, identity), so racing inserts collapse on the primary key.
func (r *MariaDBRepository) GetOrCreate(ctx context.Context, channel domain.Channel, externalID *string) (*domain.Conversation, bool, error) {
	id := ConversationID(channel, externalID)
	now := r.now().UTC().Truncate(time.Microsecond)

	query := `
		INSERT IGNORE INTO conversations (
			id, channel, external_id, ai_enabled, assigned_agent, handoff_notified,
			visible_in_conversations, booking_state, created_at, last_updated
		)
		VALUES (?, ?, ?, TRUE, NULL, FALSE, FALSE, NULL, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query, id, string(channel), externalID, now, now)
	if err != nil {
		slog.Error("Failed to create conversation",
			"error", err,
			"channel", channel,
		)
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	rows, _ := result.RowsAffected()

	conv, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, rows == 1, nil
}

// Update is a transactional read-modify-write of one conversation row
func (r *MariaDBRepository) Update(ctx context.Context, id string, fn func(*domain.Conversation) error) (*domain.Conversation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ? FOR UPDATE`
	stored, err := scanConversation(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}

	working := stored.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID, working.Channel, working.ExternalID = stored.ID, stored.Channel, stored.ExternalID
	working.UpdatedAt = nextTimestamp(r.now(), stored.UpdatedAt)

	booking, err := domain.MarshalBooking(working.Booking)
	if err != nil {
		return nil, fmt.Errorf("encode booking state: %w", err)
	}

	update := `
		UPDATE conversations
		SET ai_enabled = ?,
			assigned_agent = ?,
			handoff_notified = ?,
			visible_in_conversations = ?,
			booking_state = ?,
			last_updated = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, update,
		working.AIEnabled(),
		working.AssignedAgent(),
		working.Handoff.Notified,
		working.Visible,
		nullableJSON(booking),
		working.UpdatedAt,
		id,
	); err != nil {
		slog.Error("Failed to update conversation",
			"error", err,
			"conversation_id", id,
		)
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit conversation update: %w", err)
	}
	return working, nil
}

// List retrieves conversations ordered by last activity
func (r *MariaDBRepository) List(ctx context.Context, filter ports.ConversationFilter) ([]*domain.Conversation, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if filter.VisibleOnly {
		query += ` WHERE visible_in_conversations = TRUE`
	}
	query += ` ORDER BY last_updated DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			slog.Error("Failed to scan conversation row", "error", err)
			continue
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// Purge deletes a conversation; its messages go with it via ON DELETE CASCADE
func (r *MariaDBRepository) Purge(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("purge conversation: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// ============================================================================
// MessageRepository Implementation
// ============================================================================

// Append inserts a message. The conversation row lock serializes writers, so
// created_at is strictly increasing per conversation. The unique
// (conversation_id, external_msg_id) key rejects a replayed platform message.
func (r *MariaDBRepository) Append(ctx context.Context, msg *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var updated time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT last_updated FROM conversations WHERE id = ? FOR UPDATE`,
		msg.ConversationID,
	).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}

	var last sql.NullTime
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM messages WHERE conversation_id = ?`,
		msg.ConversationID,
	).Scan(&last); err != nil {
		return fmt.Errorf("read last message time: %w", err)
	}
	msg.CreatedAt = nextTimestamp(r.now(), last.Time)

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender, sender_id, body, external_msg_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		msg.ConversationID,
		string(msg.Sender),
		msg.SenderID,
		msg.Body,
		msg.ExternalMsgID,
		msg.CreatedAt,
	)
	if isDuplicateKey(err) {
		return domain.ErrDuplicateMessage
	}
	if err != nil {
		slog.Error("Failed to save message",
			"error", err,
			"conversation_id", msg.ConversationID,
		)
		return fmt.Errorf("save message: %w", err)
	}
	if msg.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET latest_message = ?, last_updated = ? WHERE id = ?
	`, msg.Body, nextTimestamp(r.now(), updated), msg.ConversationID); err != nil {
		return fmt.Errorf("update latest message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}

	slog.Debug("Message saved",
		"conversation_id", msg.ConversationID,
		"sender", msg.Sender,
	)
	return nil
}

const messageColumns = `id, conversation_id, sender, sender_id, body, external_msg_id, created_at`

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var (
			msg    domain.Message
			sender string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&sender,
			&msg.SenderID,
			&msg.Body,
			&msg.ExternalMsgID,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender = domain.SenderRole(sender)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// Recent retrieves the latest messages, most recent first
func (r *MariaDBRepository) Recent(ctx context.Context, conversationID string, limit int, excludeID int64) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ? AND id <> ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, conversationID, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	return scanMessages(rows)
}

// History retrieves messages oldest first for chat display
func (r *MariaDBRepository) History(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	// Newest page, then flipped back to chronological order
	query := `SELECT * FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) page ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		slog.Error("Failed to get messages",
			"error", err,
			"conversation_id", conversationID,
		)
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return scanMessages(rows)
}

// ============================================================================
// WebhookRepository Implementation
// ============================================================================

// SaveLog persists a webhook event to the audit log
func (r *MariaDBRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (platform, payload_json, status, error_log, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		log.Platform,
		[]byte(log.PayloadJSON),
		log.Status,
		log.ErrorLog,
		log.CreatedAt.UTC(),
	)
	if err != nil {
		slog.Error("Failed to save webhook log",
			"error", err,
			"platform", log.Platform,
		)
		return fmt.Errorf("save webhook log: %w", err)
	}
	if log.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("get webhook log id: %w", err)
	}

	slog.Debug("Webhook log saved",
		"webhook_id", log.ID,
		"platform", log.Platform,
	)
	return nil
}

// UpdateStatus updates the processing status of a webhook log
func (r *MariaDBRepository) UpdateStatus(ctx context.Context, id int64, status string, errLog *string) error {
	query := `
		UPDATE webhook_logs
		SET status = ?, error_log = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, errLog, id)
	if err != nil {
		return fmt.Errorf("update webhook status: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		slog.Warn("No webhook log found for status update",
			"webhook_id", id,
		)
	}
	return nil
}

// PurgeProcessed deletes one batch of old processed audit rows
func (r *MariaDBRepository) PurgeProcessed(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_logs
		WHERE status = ?
		AND created_at < ?
		LIMIT ?
	`, domain.WebhookStatusProcessed, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("purge webhook logs: %w", err)
	}
	return result.RowsAffected()
}

// ============================================================================
// SettingsRepository Implementation
// ============================================================================

// GetBool reads a stored switch, def when absent
func (r *MariaDBRepository) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("get setting %s: %w", key, err)
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return def, fmt.Errorf("setting %s is not a boolean: %w", key, err)
	}
	return b, nil
}

// SetBool upserts a switch
func (r *MariaDBRepository) SetBool(ctx context.Context, key string, value bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)
	`, key, strconv.FormatBool(value), r.now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// errDupEntry is ER_DUP_ENTRY
const errDupEntry = 1062

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDupEntry
}
