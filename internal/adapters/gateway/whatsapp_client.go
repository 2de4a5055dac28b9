package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
	"hotel-concierge/internal/resilience"
)

// WhatsAppMaxText is Twilio's body limit for WhatsApp messages
const WhatsAppMaxText = 1600

var e164 = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

var _ ports.ChannelAdapter = (*TwilioClient)(nil)

// TwilioClient sends WhatsApp replies through the Twilio Messages API
type TwilioClient struct {
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
	from       string // business number, E.164
	policy     resilience.Policy
}

// NewTwilioClient creates a Twilio client. baseURL is normally https://api.twilio.com.
func NewTwilioClient(baseURL, accountSID, authToken, from string) *TwilioClient {
	return &TwilioClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		accountSID: accountSID,
		authToken:  authToken,
		from:       strings.TrimPrefix(from, "whatsapp:"),
		policy:     DeliveryPolicy,
	}
}

// twilioMessage is the subset of the created message resource we log
type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Channel implements ports.ChannelAdapter
func (c *TwilioClient) Channel() domain.Channel { return domain.ChannelWhatsApp }

// Deliver sends text to an E.164 phone number
func (c *TwilioClient) Deliver(ctx context.Context, destination, text string) error {
	phone := strings.TrimPrefix(destination, "whatsapp:")
	if !e164.MatchString(phone) {
		return fmt.Errorf("%w: whatsapp number %q", ErrInvalidDestination, destination)
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}

	form := url.Values{}
	form.Set("From", "whatsapp:"+c.from)
	form.Set("To", "whatsapp:"+phone)
	form.Set("Body", truncate(text, WhatsAppMaxText))
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	return deliverWithRetry(ctx, c.policy, "whatsapp", phone, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		body, err := call(c.httpClient, req, "twilio")
		if err != nil {
			return err
		}
		var msg twilioMessage
		if json.Unmarshal(body, &msg) == nil && msg.Status == "failed" {
			return resilience.Permanent(fmt.Errorf("twilio message %s failed", msg.SID))
		}
		return nil
	})
}
