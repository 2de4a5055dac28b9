package dto

import (
	"net/url"
	"strings"
)

// TwilioMessage is an inbound WhatsApp message posted by Twilio as a form.
// The webhook handler re-encodes it as JSON for the audit log.
// Ref: https://www.twilio.com/docs/messaging/guides/webhook-request
type TwilioMessage struct {
	MessageSid  string `json:"MessageSid"`
	AccountSid  string `json:"AccountSid"`
	From        string `json:"From"` // "whatsapp:+15551234567"
	To          string `json:"To"`
	Body        string `json:"Body"`
	NumMedia    string `json:"NumMedia,omitempty"`
	MediaURL0   string `json:"MediaUrl0,omitempty"`
	ProfileName string `json:"ProfileName,omitempty"`
}

// TwilioMessageFromForm reads the fields Twilio posts
func TwilioMessageFromForm(form url.Values) TwilioMessage {
	return TwilioMessage{
		MessageSid:  form.Get("MessageSid"),
		AccountSid:  form.Get("AccountSid"),
		From:        form.Get("From"),
		To:          form.Get("To"),
		Body:        form.Get("Body"),
		NumMedia:    form.Get("NumMedia"),
		MediaURL0:   form.Get("MediaUrl0"),
		ProfileName: form.Get("ProfileName"),
	}
}

// Phone returns the sender's E.164 number without the channel prefix
func (m *TwilioMessage) Phone() string {
	return strings.TrimPrefix(m.From, "whatsapp:")
}

// Messages returns the user message, falling back to the media URL
func (m *TwilioMessage) Messages() (msgs []InboundMessage, skipped int) {
	text := m.Body
	if text == "" {
		text = m.MediaURL0
	}
	if text == "" || m.From == "" {
		return nil, 1
	}
	return []InboundMessage{{
		ExternalID: m.Phone(),
		Text:       text,
		MessageID:  m.MessageSid,
	}}, 0
}
