// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel identifies the platform a conversation lives on.
// A conversation's channel never changes after creation.
type Channel string

const (
	ChannelDashboard Channel = "dashboard"
	ChannelTelegram  Channel = "telegram"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
)

// Channels lists every supported channel
var Channels = []Channel{ChannelDashboard, ChannelTelegram, ChannelWhatsApp, ChannelInstagram}

// ParseChannel validates a raw channel name
func ParseChannel(s string) (Channel, error) {
	for _, c := range Channels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// SenderRole is who authored a message
type SenderRole string

const (
	SenderUser  SenderRole = "user"
	SenderAI    SenderRole = "ai"
	SenderAgent SenderRole = "agent"
)

// DashboardExternalID is the external identity of the synthetic dashboard conversation
// used by the chat widget when no session id is supplied.
const DashboardExternalID = "dashboard-widget"

// Conversation represents one ongoing exchange with one external party on one channel
type Conversation struct {
	ID         string    `json:"id" db:"id"`
	Channel    Channel   `json:"channel" db:"channel"`
	ExternalID *string   `json:"external_id,omitempty" db:"external_id"` // phone / chat id / IGSID; nil only for dashboard
	Handoff    Handoff   `json:"handoff"`
	Visible    bool      `json:"visible_in_conversations" db:"visible_in_conversations"`
	Booking    *Booking  `json:"booking_state,omitempty" db:"booking_state"`
	LastText   string    `json:"latest_message" db:"latest_message"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"last_updated" db:"last_updated"`
}

// AIEnabled reports whether automation may speak on this conversation
func (c *Conversation) AIEnabled() bool {
	return c.Handoff.AIEnabled()
}

// AssignedAgent returns the operator owning the conversation, nil while automated
func (c *Conversation) AssignedAgent() *string {
	return c.Handoff.AssignedAgent()
}

// Destination returns the channel-specific address used to deliver replies
func (c *Conversation) Destination() string {
	if c.ExternalID == nil {
		return ""
	}
	return *c.ExternalID
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (c *Conversation) Clone() *Conversation {
	cp := *c
	if c.ExternalID != nil {
		ext := *c.ExternalID
		cp.ExternalID = &ext
	}
	if c.Booking != nil {
		b := *c.Booking
		cp.Booking = &b
	}
	return &cp
}

// Message represents one append-only entry in a conversation's log
type Message struct {
	ID             int64      `json:"id" db:"id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	Sender         SenderRole `json:"sender" db:"sender"`
	SenderID       *string    `json:"sender_id,omitempty" db:"sender_id"` // operator id for agent messages
	Body           string     `json:"message" db:"body"`
	ExternalMsgID  *string    `json:"external_msg_id,omitempty" db:"external_msg_id"`
	CreatedAt      time.Time  `json:"timestamp" db:"created_at"`
}

// WebhookLog represents the audit trail for incoming webhook events
type WebhookLog struct {
	ID          int64           `json:"id" db:"id"`
	Platform    string          `json:"platform" db:"platform"`         // "telegram", "whatsapp", "instagram"
	PayloadJSON json.RawMessage `json:"payload_json" db:"payload_json"` // raw body, JSON-wrapped for form payloads
	Status      string          `json:"status" db:"status"`             // "pending", "processed", "failed"
	ErrorLog    *string         `json:"error_log,omitempty" db:"error_log"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// WebhookStatus constants for lifecycle management
const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)
