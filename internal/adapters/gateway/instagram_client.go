package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
	"hotel-concierge/internal/resilience"
)

// InstagramMaxText is the Send API limit for one Instagram message
const InstagramMaxText = 1000

// Custom errors for specific Graph API failures
var (
	// ErrTokenExpired indicates the page access token is expired or invalid (code 190)
	ErrTokenExpired = errors.New("instagram access token expired or invalid")

	// ErrPermissionDenied indicates missing permissions (code 10, 200, 299)
	ErrPermissionDenied = errors.New("instagram permission denied")
)

var (
	_ ports.ChannelAdapter = (*InstagramClient)(nil)
	_ ports.TypingSender   = (*InstagramClient)(nil)
)

// InstagramClient sends replies through the Graph API Send endpoint
type InstagramClient struct {
	httpClient  *http.Client
	baseURL     string
	apiVersion  string
	accessToken string
	policy      resilience.Policy
}

// NewInstagramClient creates a Graph API client. baseURL is normally
// https://graph.facebook.com.
func NewInstagramClient(baseURL, accessToken string) *InstagramClient {
	return &InstagramClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:     baseURL,
		apiVersion:  "v19.0",
		accessToken: accessToken,
		policy:      DeliveryPolicy,
	}
}

// SendMessageRequest represents the Send API payload structure
type SendMessageRequest struct {
	Recipient struct {
		ID string `json:"id"` // IGSID (Instagram-scoped ID)
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	MessagingType string `json:"messaging_type"` // "RESPONSE" for replies
}

// SendMessageResponse represents the Graph API response
type SendMessageResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// GraphError represents an error from the Graph API
type GraphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

// Channel implements ports.ChannelAdapter
func (c *InstagramClient) Channel() domain.Channel { return domain.ChannelInstagram }

// Deliver sends text to an Instagram user. destination is the IGSID.
//
// Returns specific errors:
//   - ErrTokenExpired: token invalid/expired (code 190), not retried
//   - ErrPermissionDenied: missing permissions, not retried
//   - ErrRateLimited: retried with backoff
func (c *InstagramClient) Deliver(ctx context.Context, destination, text string) error {
	if strings.TrimSpace(destination) == "" {
		return fmt.Errorf("%w: empty instagram recipient", ErrInvalidDestination)
	}

	payload := SendMessageRequest{MessagingType: "RESPONSE"}
	payload.Recipient.ID = destination
	payload.Message.Text = truncate(text, InstagramMaxText)

	return deliverWithRetry(ctx, c.policy, "instagram", destination, func(ctx context.Context) error {
		body, err := c.post(ctx, payload)
		if err != nil {
			return err
		}
		var sendResp SendMessageResponse
		if err := json.Unmarshal(body, &sendResp); err != nil {
			// Still a success since HTTP 200 means it worked
			slog.Warn("Failed to parse success response", "error", err)
			return nil
		}
		slog.Debug("Instagram message accepted",
			"recipient_id", sendResp.RecipientID,
			"message_id", sendResp.MessageID,
		)
		return nil
	})
}

// SendTyping shows or hides the typing bubble in the customer's inbox
func (c *InstagramClient) SendTyping(ctx context.Context, destination string, on bool) error {
	action := "typing_off"
	if on {
		action = "typing_on"
	}
	_, err := c.post(ctx, map[string]any{
		"recipient":     map[string]string{"id": destination},
		"sender_action": action,
	})
	return err
}

func (c *InstagramClient) post(ctx context.Context, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/%s/me/messages", c.baseURL, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.URL.RawQuery = "access_token=" + c.accessToken

	body, err := call(c.httpClient, req, "instagram")
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return nil, graphError(apiErr, err)
	}
	return body, err
}

// graphError maps the Graph API error code onto the sentinel errors
func graphError(apiErr *APIError, classified error) error {
	var fbError struct {
		Error GraphError `json:"error"`
	}
	if err := json.Unmarshal([]byte(apiErr.Body), &fbError); err != nil || fbError.Error.Code == 0 {
		return classified
	}

	slog.Error("Graph API error",
		"status_code", apiErr.Status,
		"error_code", fbError.Error.Code,
		"error_message", fbError.Error.Message,
		"error_subcode", fbError.Error.ErrorSubcode,
		"fbtrace_id", fbError.Error.FBTraceID,
	)

	switch fbError.Error.Code {
	case 190:
		return resilience.Permanent(ErrTokenExpired)
	case 4, 17, 32, 613:
		return fmt.Errorf("%w: %s", ErrRateLimited, fbError.Error.Message)
	case 10, 200, 299:
		return resilience.Permanent(ErrPermissionDenied)
	case 100:
		return resilience.Permanent(fmt.Errorf("invalid parameter: %s", fbError.Error.Message))
	}
	return classified
}
