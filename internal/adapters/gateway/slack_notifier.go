package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

var _ ports.Notifier = (*SlackNotifier)(nil)

// SlackNotifier posts needs-attention alerts to an operator Slack channel
// through an incoming webhook
type SlackNotifier struct {
	webhookURL   string
	dashboardURL string
	httpClient   *http.Client
}

// NewSlackNotifier creates the notifier. dashboardURL, when set, is linked
// from every alert.
func NewSlackNotifier(webhookURL, dashboardURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL:   webhookURL,
		dashboardURL: strings.TrimRight(dashboardURL, "/"),
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

var reasonTitles = map[string]string{
	domain.ReasonKeyword:          "Guest asked for a person",
	domain.ReasonResponderApology: "Concierge could not answer",
	domain.ReasonResponderFailure: "Concierge is failing",
	domain.ReasonAvailability:     "Availability could not be checked",
	domain.ReasonBookingConfirmed: "New booking request",
	domain.ReasonAIDisabled:       "Message while automation is off",
}

// NotifyAttention implements ports.Notifier
func (n *SlackNotifier) NotifyAttention(ctx context.Context, conv *domain.Conversation, reason string) error {
	title, ok := reasonTitles[reason]
	if !ok {
		title = "Conversation needs attention"
	}

	body := fmt.Sprintf("*Channel:* %s\n*Conversation:* `%s`", conv.Channel, conv.ID)
	if conv.LastText != "" {
		body += fmt.Sprintf("\n*Last message:* %s", conv.LastText)
	}
	if n.dashboardURL != "" {
		body += fmt.Sprintf("\n<%s/conversations/%s|Open in dashboard>", n.dashboardURL, conv.ID)
	}

	msg := &slack.WebhookMessage{
		Text: title,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
		}},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.httpClient, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
