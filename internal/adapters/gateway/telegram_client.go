package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
	"hotel-concierge/internal/resilience"
)

// TelegramMaxText is the Bot API limit for one message
const TelegramMaxText = 4096

var (
	_ ports.ChannelAdapter = (*TelegramClient)(nil)
	_ ports.TypingSender   = (*TelegramClient)(nil)
)

// TelegramClient sends replies through the Telegram Bot API
type TelegramClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	policy     resilience.Policy
}

// NewTelegramClient creates a Bot API client. baseURL is normally
// https://api.telegram.org.
func NewTelegramClient(baseURL, token string) *TelegramClient {
	return &TelegramClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		token:      token,
		policy:     DeliveryPolicy,
	}
}

// telegramResponse is the envelope of every Bot API answer
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// Channel implements ports.ChannelAdapter
func (c *TelegramClient) Channel() domain.Channel { return domain.ChannelTelegram }

// Deliver sends text to a chat. destination is the numeric chat id.
func (c *TelegramClient) Deliver(ctx context.Context, destination, text string) error {
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: telegram chat id %q", ErrInvalidDestination, destination)
	}

	payload := map[string]any{
		"chat_id": chatID,
		"text":    truncate(text, TelegramMaxText),
	}
	return deliverWithRetry(ctx, c.policy, "telegram", destination, func(ctx context.Context) error {
		return c.post(ctx, "sendMessage", payload)
	})
}

// SendTyping shows the "typing…" chat action. Telegram clears it on its own.
func (c *TelegramClient) SendTyping(ctx context.Context, destination string, on bool) error {
	if !on {
		return nil
	}
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: telegram chat id %q", ErrInvalidDestination, destination)
	}
	return c.post(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": "typing"})
}

func (c *TelegramClient) post(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := call(c.httpClient, req, "telegram")
	if err != nil {
		return err
	}

	var resp telegramResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		// HTTP 200 means it worked
		slog.Warn("Failed to parse telegram response", "error", err, "method", method)
		return nil
	}
	if !resp.OK {
		return resilience.Permanent(fmt.Errorf("telegram %s rejected: %s", method, resp.Description))
	}
	return nil
}
