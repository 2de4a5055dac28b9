// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"hotel-concierge/internal/adapters/dto"
	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/ports"
)

// DedupTTL is how long a platform message id is remembered
const DedupTTL = 24 * time.Hour

// InboundHandler is the part of the orchestrator the dispatcher drives
type InboundHandler interface {
	HandleInbound(ctx context.Context, in Inbound) (*Outcome, error)
}

// Dispatcher turns raw webhook payloads into orchestrator turns.
// Fire & Forget: the HTTP handler acknowledges at once and Submit processes
// the payload on a bounded pool of workers.
type Dispatcher struct {
	webhookRepo ports.WebhookRepository
	dedupRepo   ports.DedupRepository
	engine      InboundHandler

	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewDispatcher creates a new dispatcher instance with dependencies injected.
// workers bounds concurrent payloads; timeout bounds one payload's processing.
func NewDispatcher(
	webhookRepo ports.WebhookRepository,
	dedupRepo ports.DedupRepository,
	engine InboundHandler,
	workers int,
	timeout time.Duration,
) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Dispatcher{
		webhookRepo: webhookRepo,
		dedupRepo:   dedupRepo,
		engine:      engine,
		sem:         semaphore.NewWeighted(int64(workers)),
		timeout:     timeout,
	}
}

// Submit queues a payload for background processing. It blocks only while
// every worker is busy and returns an error if ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, platform domain.Channel, payload []byte) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("dispatcher saturated: %w", err)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		// The request context is gone by now; processing gets its own deadline
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.ProcessWebhook(ctx, platform, payload)
	}()
	return nil
}

// Wait blocks until every submitted payload is processed
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ProcessWebhook audits, parses, deduplicates and hands each user message to the engine
func (d *Dispatcher) ProcessWebhook(ctx context.Context, platform domain.Channel, payload []byte) {
	// ========================================================================
	// Panic Recovery: one bad payload must not take the worker pool down
	// ========================================================================
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in ProcessWebhook",
				"panic", r,
				"platform", platform,
			)
		}
	}()

	// ========================================================================
	// Step 1: Save webhook to audit log
	// ========================================================================
	webhookLog := &domain.WebhookLog{
		Platform:    string(platform),
		PayloadJSON: json.RawMessage(payload),
		Status:      domain.WebhookStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := d.webhookRepo.SaveLog(ctx, webhookLog); err != nil {
		// Keep going: losing the audit row must not lose the guest's message
		slog.Error("Failed to save webhook log",
			"error", err,
			"platform", platform,
		)
	}

	// ========================================================================
	// Step 2: Parse the platform payload
	// ========================================================================
	msgs, skipped, err := parsePayload(platform, payload)
	if err != nil {
		slog.Error("Failed to parse webhook payload",
			"error", err,
			"platform", platform,
		)
		d.updateWebhookStatus(ctx, webhookLog, domain.WebhookStatusFailed, err)
		return
	}

	// ========================================================================
	// Step 3: Process each user message; one failure does not stop the rest
	// ========================================================================
	processed, failed := 0, 0
	var lastErr error
	for _, msg := range msgs {
		if err := d.processMessage(ctx, platform, msg); err != nil {
			slog.Error("Failed to process message",
				"error", err,
				"platform", platform,
				"message_id", msg.MessageID,
			)
			failed++
			lastErr = err
			continue
		}
		processed++
	}

	if failed > 0 {
		d.updateWebhookStatus(ctx, webhookLog, domain.WebhookStatusFailed, lastErr)
	} else {
		d.updateWebhookStatus(ctx, webhookLog, domain.WebhookStatusProcessed, nil)
	}

	slog.Info("Webhook processing completed",
		"platform", platform,
		"processed", processed,
		"skipped", skipped,
		"failed", failed,
	)
}

func parsePayload(platform domain.Channel, payload []byte) ([]dto.InboundMessage, int, error) {
	switch platform {
	case domain.ChannelTelegram:
		var update dto.TelegramUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			return nil, 0, fmt.Errorf("decode telegram update: %w", err)
		}
		msgs, skipped := update.Messages()
		return msgs, skipped, nil

	case domain.ChannelWhatsApp:
		var msg dto.TwilioMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, 0, fmt.Errorf("decode twilio message: %w", err)
		}
		msgs, skipped := msg.Messages()
		return msgs, skipped, nil

	case domain.ChannelInstagram:
		var req dto.InstagramWebhookRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, 0, fmt.Errorf("decode instagram webhook: %w", err)
		}
		msgs, skipped := req.Messages()
		return msgs, skipped, nil
	}
	return nil, 0, fmt.Errorf("no webhook parser for platform %q", platform)
}

// processMessage handles a single user message
func (d *Dispatcher) processMessage(ctx context.Context, platform domain.Channel, msg dto.InboundMessage) error {
	// ========================================================================
	// Step 1: Claim the platform message id (platforms retry slow
	// acknowledgements, sometimes while the first delivery is still running)
	// ========================================================================
	if msg.MessageID != "" {
		claimed, err := d.dedupRepo.Claim(ctx, msg.MessageID, DedupTTL)
		if err != nil {
			return fmt.Errorf("dedup claim failed: %w", err)
		}
		if !claimed {
			slog.Info("Duplicate message detected, skipping",
				"platform", platform,
				"message_id", msg.MessageID,
			)
			return nil
		}
	}

	handled := false
	defer func() {
		// A message that never reached the log must stay retryable
		if !handled && msg.MessageID != "" {
			d.releaseClaim(msg.MessageID)
		}
	}()

	// ========================================================================
	// Step 2: Run the conversation engine
	// ========================================================================
	out, err := d.engine.HandleInbound(ctx, Inbound{
		Channel:       platform,
		ExternalID:    msg.ExternalID,
		Text:          msg.Text,
		ExternalMsgID: msg.MessageID,
	})
	if err != nil {
		return fmt.Errorf("handle inbound: %w", err)
	}
	handled = true

	if out.Duplicate {
		slog.Info("Message already in the log, skipping",
			"platform", platform,
			"message_id", msg.MessageID,
			"conversation_id", out.Conversation.ID,
		)
		return nil
	}

	slog.Info("Message processed successfully",
		"platform", platform,
		"message_id", msg.MessageID,
		"conversation_id", out.Conversation.ID,
		"replied", out.Reply != nil,
		"escalated", out.Escalated,
		"content_preview", preview(msg.Text),
	)
	return nil
}

func (d *Dispatcher) releaseClaim(messageID string) {
	// The processing context may already be over
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.dedupRepo.Release(ctx, messageID); err != nil {
		slog.Warn("Failed to release dedup claim",
			"error", err,
			"message_id", messageID,
		)
	}
}

func (d *Dispatcher) updateWebhookStatus(ctx context.Context, log *domain.WebhookLog, status string, cause error) {
	if log.ID == 0 {
		return
	}
	var errLog *string
	if cause != nil {
		s := cause.Error()
		errLog = &s
	}
	if err := d.webhookRepo.UpdateStatus(ctx, log.ID, status, errLog); err != nil {
		slog.Error("Failed to update webhook status",
			"error", err,
			"webhook_id", log.ID,
			"status", status,
		)
	}
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return s
}
