package domain

import "time"

// EventType names a UI event broadcast to the presentation layer
type EventType string

const (
	EventNewMessage      EventType = "new_message"
	EventNeedsAttention  EventType = "conversation_needs_attention"
	EventStateChanged    EventType = "conversation_state_changed"
	EventDeliveryFailed  EventType = "delivery_failed"
	EventAgentTyping     EventType = "agent_typing"
	EventSettingsUpdated EventType = "settings_updated"
)

// Event is what the engine emits. Delivery is at-most-once; consumers poll
// conversation state to recover from missed events.
type Event struct {
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	At             time.Time      `json:"at"`
}

// NewMessageEvent builds a new_message event
func NewMessageEvent(conv *Conversation, msg *Message) Event {
	return Event{
		Type:           EventNewMessage,
		ConversationID: conv.ID,
		Payload: map[string]any{
			"text":        msg.Body,
			"sender_role": msg.Sender,
			"channel":     conv.Channel,
			"timestamp":   msg.CreatedAt,
		},
		At: time.Now(),
	}
}

// NeedsAttentionEvent builds a conversation_needs_attention event
func NeedsAttentionEvent(conversationID, reason string) Event {
	return Event{
		Type:           EventNeedsAttention,
		ConversationID: conversationID,
		Payload:        map[string]any{"reason": reason},
		At:             time.Now(),
	}
}

// StateChangedEvent builds a conversation_state_changed event
func StateChangedEvent(conv *Conversation) Event {
	return Event{
		Type:           EventStateChanged,
		ConversationID: conv.ID,
		Payload: map[string]any{
			"ai_enabled":               conv.AIEnabled(),
			"assigned_agent":           conv.AssignedAgent(),
			"handoff_notified":         conv.Handoff.Notified,
			"visible_in_conversations": conv.Visible,
		},
		At: time.Now(),
	}
}

// DeliveryFailedEvent builds a delivery_failed event
func DeliveryFailedEvent(conv *Conversation, err error) Event {
	return Event{
		Type:           EventDeliveryFailed,
		ConversationID: conv.ID,
		Payload: map[string]any{
			"channel": conv.Channel,
			"error":   err.Error(),
		},
		At: time.Now(),
	}
}

// Escalation reasons carried by needs-attention events
const (
	ReasonKeyword          = "escalation_keyword"
	ReasonResponderApology = "responder_apology"
	ReasonResponderFailure = "responder_failure"
	ReasonAvailability     = "availability_unknown"
	ReasonBookingConfirmed = "booking_confirmed"
	ReasonAIDisabled       = "ai_disabled"
	ReasonLockUnavailable  = "lock_unavailable"
)

// AgentTypingEvent relays an operator's typing indicator
func AgentTypingEvent(conversationID, operator string, typing bool) Event {
	return Event{
		Type:           EventAgentTyping,
		ConversationID: conversationID,
		Payload:        map[string]any{"operator": operator, "typing": typing},
		At:             time.Now(),
	}
}

// SettingsUpdatedEvent announces a change of a global switch
func SettingsUpdatedEvent(key string, value any, changedBy string) Event {
	return Event{
		Type:    EventSettingsUpdated,
		Payload: map[string]any{"key": key, "value": value, "changed_by": changedBy},
		At:      time.Now(),
	}
}

// With returns a copy of the event carrying one more payload field
func (e Event) With(key string, value any) Event {
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value
	e.Payload = payload
	return e
}
