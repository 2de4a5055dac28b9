package gateway

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
	"hotel-concierge/internal/resilience"
)

// ErrResponderUnavailable is returned once every attempt to get a reply failed
var ErrResponderUnavailable = errors.New("automated responder unavailable")

//go:embed system_prompt.md
var defaultSystemPrompt string

var _ ports.Responder = (*OpenAIClient)(nil)

// OpenAIConfig configures the chat-completions responder
type OpenAIConfig struct {
	BaseURL      string // e.g. https://api.openai.com/v1
	APIKey       string
	Model        string
	SystemPrompt string // empty uses the embedded default
	Temperature  float64
	MaxTokens    int
}

// OpenAIClient answers guests through an OpenAI-compatible chat-completions API
type OpenAIClient struct {
	httpClient *http.Client
	cfg        OpenAIConfig
	policy     resilience.Policy
	breaker    *resilience.Breaker
}

// NewOpenAIClient creates the responder: 20s per attempt, 3 attempts 1s apart,
// behind a breaker that opens after 5 consecutive failed turns
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	return &OpenAIClient{
		httpClient: &http.Client{},
		cfg:        cfg,
		policy: resilience.Policy{
			Attempts:       3,
			Base:           time.Second,
			AttemptTimeout: 20 * time.Second,
		},
		breaker: resilience.NewBreaker(5, 30*time.Second),
	}
}

// LoadSystemPrompt reads a prompt override file; an empty path keeps the default
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Reply implements ports.Responder
func (c *OpenAIClient) Reply(ctx context.Context, req ports.ResponderRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    c.messages(req),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrResponderUnavailable, err)
	}

	var reply string
	err = c.breaker.Execute(func() error {
		return c.policy.Do(ctx, func(ctx context.Context) error {
			text, err := c.complete(ctx, body)
			if err != nil {
				slog.Warn("Responder attempt failed",
					"error", err,
					"conversation_id", req.ConversationID,
				)
				return err
			}
			reply = text
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrResponderUnavailable, err)
	}
	return reply, nil
}

// messages frames the turn: system prompt, history oldest first, then the new text
func (c *OpenAIClient) messages(req ports.ResponderRequest) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	system := c.cfg.SystemPrompt
	if req.Language != "" {
		system += "\nThe guest is writing in language code: " + req.Language + "."
	}
	msgs = append(msgs, chatMessage{Role: "system", Content: system})
	for _, m := range req.History {
		role := "user"
		if m.Sender == domain.SenderAI || m.Sender == domain.SenderAgent {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Body})
	}
	return append(msgs, chatMessage{Role: "user", Content: req.Text})
}

func (c *OpenAIClient) complete(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", resilience.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	respBody, err := call(c.httpClient, httpReq, "openai")
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("completion has no content")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// BreakerState reports the responder circuit for the status endpoint
func (c *OpenAIClient) BreakerState() string {
	return c.breaker.State()
}
