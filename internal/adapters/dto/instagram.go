package dto

// InstagramWebhookRequest is the top-level webhook payload from the Instagram Messaging API
// Ref: https://developers.facebook.com/docs/messenger-platform/instagram/features/webhook
type InstagramWebhookRequest struct {
	Object string           `json:"object"` // "instagram"
	Entry  []InstagramEntry `json:"entry"`
}

// InstagramEntry represents one account's batch of events
type InstagramEntry struct {
	ID        string               `json:"id"`   // Instagram professional account id
	Time      int64                `json:"time"` // Unix milliseconds
	Messaging []InstagramMessaging `json:"messaging"`
}

// InstagramMessaging represents a single messaging event
// Can be a message, read receipt, or echo of our own reply
type InstagramMessaging struct {
	Sender    InstagramUser     `json:"sender"`
	Recipient InstagramUser     `json:"recipient"`
	Timestamp int64             `json:"timestamp"`
	Message   *InstagramMessage `json:"message,omitempty"`
	Read      *InstagramRead    `json:"read,omitempty"`
}

// InstagramUser is an Instagram-scoped id (IGSID)
type InstagramUser struct {
	ID string `json:"id"`
}

// InstagramMessage represents the message content
type InstagramMessage struct {
	MID         string                `json:"mid"`
	Text        string                `json:"text"`
	Attachments []InstagramAttachment `json:"attachments,omitempty"`
	IsEcho      bool                  `json:"is_echo,omitempty"`
	IsDeleted   bool                  `json:"is_deleted,omitempty"`
}

// InstagramAttachment represents shared media
type InstagramAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

// InstagramRead represents a read receipt
type InstagramRead struct {
	MID string `json:"mid"`
}

// IsUserMessage is false for echoes, deletions and read receipts
func (m *InstagramMessaging) IsUserMessage() bool {
	if m.Message == nil || m.Read != nil {
		return false
	}
	return !m.Message.IsEcho && !m.Message.IsDeleted
}

// GetContent returns the text, or the first attachment URL for media-only messages
func (m *InstagramMessaging) GetContent() string {
	if m.Message == nil {
		return ""
	}
	if m.Message.Text != "" {
		return m.Message.Text
	}
	if len(m.Message.Attachments) > 0 {
		return m.Message.Attachments[0].Payload.URL
	}
	return ""
}

// Messages flattens the user messages of a webhook call
func (r *InstagramWebhookRequest) Messages() (msgs []InboundMessage, skipped int) {
	for _, entry := range r.Entry {
		for i := range entry.Messaging {
			m := &entry.Messaging[i]
			content := m.GetContent()
			if !m.IsUserMessage() || content == "" {
				skipped++
				continue
			}
			msgs = append(msgs, InboundMessage{
				ExternalID: m.Sender.ID,
				Text:       content,
				MessageID:  m.Message.MID,
			})
		}
	}
	return msgs, skipped
}
