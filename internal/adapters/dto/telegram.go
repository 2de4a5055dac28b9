package dto

import "strconv"

// TelegramUpdate is one Bot API update delivered to the webhook
// Ref: https://core.telegram.org/bots/api#update
type TelegramUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *TelegramMessage `json:"message,omitempty"`
	EditedMessage *TelegramMessage `json:"edited_message,omitempty"`
}

// TelegramMessage is a chat message
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *TelegramUser `json:"from,omitempty"`
	Chat      TelegramChat  `json:"chat"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
	Caption   string        `json:"caption,omitempty"`
}

// TelegramUser is the author of a message
type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// TelegramChat is where replies go
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Messages returns the user message of the update, if any. Edits and bot
// authors are skipped.
func (u *TelegramUpdate) Messages() (msgs []InboundMessage, skipped int) {
	m := u.Message
	if m == nil || (m.From != nil && m.From.IsBot) {
		return nil, 1
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return nil, 1
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	return []InboundMessage{{
		ExternalID: chatID,
		Text:       text,
		MessageID:  "tg:" + chatID + ":" + strconv.FormatInt(m.MessageID, 10),
	}}, 0
}
