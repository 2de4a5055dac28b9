package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/parser"
	"hotel-concierge/internal/core/ports"
)

// DefaultHistorySize is how many earlier messages the responder sees
const DefaultHistorySize = 10

// unlockedSaveTimeout bounds logging a message whose turn could not take the
// conversation lock
const unlockedSaveTimeout = 10 * time.Second

// errSuppressed aborts an automated turn whose conversation changed hands or
// dialogue state while the reply was being prepared
var errSuppressed = errors.New("automated reply suppressed")

// Inbound is one normalized message from an external user
type Inbound struct {
	Channel        domain.Channel
	ExternalID     string // chat id / phone / IGSID; empty for the dashboard widget
	ConversationID string // known conversation (dashboard), optional
	Text           string
	ExternalMsgID  string
}

// Outcome reports what one turn did
type Outcome struct {
	Conversation *domain.Conversation
	Inbound      *domain.Message
	Reply        *domain.Message // nil when automation stayed silent
	Escalated    bool
	DeliveryErr  error
	// Duplicate: the platform message id was already logged; nothing was done
	Duplicate bool
}

// Orchestrator is the conversation engine: it logs every message, decides who
// answers, runs the booking dialogue and owns the handoff protocol.
type Orchestrator struct {
	conversations ports.ConversationRepository
	messages      ports.MessageRepository
	locker        ports.ConversationLocker
	parser        ports.TextParser
	booking       *BookingDialogue
	responder     ports.Responder
	adapters      map[domain.Channel]ports.ChannelAdapter
	events        ports.Broadcaster
	notifier      ports.Notifier
	aiSwitch      *AISwitch
	historySize   int
}

// OrchestratorDeps groups the orchestrator's collaborators
type OrchestratorDeps struct {
	Conversations ports.ConversationRepository
	Messages      ports.MessageRepository
	Locker        ports.ConversationLocker
	Parser        ports.TextParser
	Booking       *BookingDialogue
	Responder     ports.Responder
	Adapters      []ports.ChannelAdapter
	Events        ports.Broadcaster
	Notifier      ports.Notifier // optional
	AISwitch      *AISwitch
	HistorySize   int
}

// NewOrchestrator wires the engine
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	adapters := make(map[domain.Channel]ports.ChannelAdapter, len(deps.Adapters))
	for _, a := range deps.Adapters {
		adapters[a.Channel()] = a
	}
	history := deps.HistorySize
	if history <= 0 {
		history = DefaultHistorySize
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &Orchestrator{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		locker:        locker,
		parser:        deps.Parser,
		booking:       deps.Booking,
		responder:     deps.Responder,
		adapters:      adapters,
		events:        deps.Events,
		notifier:      deps.Notifier,
		aiSwitch:      deps.AISwitch,
		historySize:   history,
	}
}

// ============================================================================
// User turns
// ============================================================================

// HandleInbound runs one user turn. Errors are returned only when the message
// could not be logged; every later failure becomes a reply or an escalation.
func (o *Orchestrator) HandleInbound(ctx context.Context, in Inbound) (*Outcome, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}

	conv, err := o.resolve(ctx, in)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		Sender:         domain.SenderUser,
		Body:           text,
	}
	if in.ExternalMsgID != "" {
		ext := in.ExternalMsgID
		msg.ExternalMsgID = &ext
	}

	unlock, err := o.locker.Lock(ctx, conv.ID)
	if err != nil {
		return o.inboundWithoutLock(ctx, conv, msg, err)
	}
	defer unlock()

	// The log is authoritative: persist before any decision is made
	if err := o.messages.Append(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			return &Outcome{Conversation: conv, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("save inbound message: %w", err)
	}

	// Re-read under the lock; the resolved copy may predate another turn
	if conv, err = o.conversations.GetByID(ctx, conv.ID); err != nil {
		return nil, fmt.Errorf("reload conversation: %w", err)
	}
	o.publish(domain.NewMessageEvent(conv, msg))

	out := &Outcome{Conversation: conv, Inbound: msg}

	if !conv.AIEnabled() {
		slog.Debug("Conversation owned by operators, automation stays silent",
			"conversation_id", conv.ID,
			"assigned_agent", conv.AssignedAgent(),
		)
		return out, nil
	}

	if o.aiSwitch != nil && !o.aiSwitch.Enabled() {
		return o.surfaceWithoutReply(ctx, out)
	}

	return o.automatedTurn(ctx, out, text)
}

// resolve finds or creates the conversation an inbound message belongs to
func (o *Orchestrator) resolve(ctx context.Context, in Inbound) (*domain.Conversation, error) {
	if in.ConversationID != "" {
		conv, err := o.conversations.GetByID(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv.Channel != in.Channel {
			return nil, fmt.Errorf("conversation %s is on channel %s, not %s: %w",
				conv.ID, conv.Channel, in.Channel, domain.ErrConversationNotFound)
		}
		return conv, nil
	}

	var ext *string
	if in.ExternalID != "" {
		ext = &in.ExternalID
	} else if in.Channel != domain.ChannelDashboard {
		return nil, fmt.Errorf("inbound %s message without external identity", in.Channel)
	}

	conv, created, err := o.conversations.GetOrCreate(ctx, in.Channel, ext)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		slog.Info("New conversation",
			"conversation_id", conv.ID,
			"channel", conv.Channel,
		)
	}
	return conv, nil
}

// surfaceWithoutReply handles a user turn while automation is globally off
func (o *Orchestrator) surfaceWithoutReply(ctx context.Context, out *Outcome) (*Outcome, error) {
	conv, surfaced, err := o.markVisible(ctx, out.Conversation.ID)
	if err != nil {
		return out, nil
	}
	out.Conversation = conv
	if surfaced {
		o.publish(domain.NeedsAttentionEvent(conv.ID, domain.ReasonAIDisabled))
		o.notify(ctx, conv, domain.ReasonAIDisabled)
	}
	return out, nil
}

// inboundWithoutLock keeps a message whose turn could not serialize on the
// conversation. The message is logged and, while automation owns the
// conversation, surfaced to operators; no automated reply is produced.
func (o *Orchestrator) inboundWithoutLock(ctx context.Context, conv *domain.Conversation, msg *domain.Message, lockErr error) (*Outcome, error) {
	slog.Error("Conversation lock unavailable, logging message without a reply",
		"error", lockErr,
		"conversation_id", conv.ID,
	)

	// The caller's deadline may be what failed the lock
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockedSaveTimeout)
	defer cancel()

	if err := o.messages.Append(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			return &Outcome{Conversation: conv, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("save inbound message (lock conversation %s: %v): %w", conv.ID, lockErr, err)
	}
	if latest, err := o.conversations.GetByID(ctx, conv.ID); err == nil {
		conv = latest
	}
	o.publish(domain.NewMessageEvent(conv, msg))

	out := &Outcome{Conversation: conv, Inbound: msg}
	if !conv.AIEnabled() {
		// Operators already own it and see the new message
		return out, nil
	}

	updated, _, err := o.markVisible(ctx, conv.ID)
	if err == nil {
		out.Conversation = updated
	}
	o.publish(domain.NeedsAttentionEvent(conv.ID, domain.ReasonLockUnavailable))
	o.notify(ctx, out.Conversation, domain.ReasonLockUnavailable)
	return out, nil
}

// markVisible puts a conversation in the operator queue. surfaced reports
// whether it was hidden before.
func (o *Orchestrator) markVisible(ctx context.Context, id string) (*domain.Conversation, bool, error) {
	surfaced := false
	conv, err := o.conversations.Update(ctx, id, func(c *domain.Conversation) error {
		surfaced = !c.Visible
		c.Visible = true
		return nil
	})
	if err != nil {
		slog.Error("Failed to surface conversation", "error", err, "conversation_id", id)
		return nil, false, err
	}
	return conv, surfaced, nil
}

// turnPlan is what the automated side decided to do with one message
type turnPlan struct {
	reply    string
	booking  *BookingStep // nil when the dialogue was not involved
	escalate string       // gated escalation reason
}

func (o *Orchestrator) automatedTurn(ctx context.Context, out *Outcome, text string) (*Outcome, error) {
	conv := out.Conversation
	lang := o.parser.DetectLanguage(text)

	var plan turnPlan
	switch {
	case o.parser.WantsHuman(text):
		plan = turnPlan{reply: o.parser.Reply(lang, parser.ReplyEscalation, nil), escalate: domain.ReasonKeyword}

	case conv.Booking != nil:
		step := o.booking.Advance(ctx, lang, conv.Booking, text)
		plan = turnPlan{reply: step.Reply, booking: &step, escalate: step.Escalate}

	case o.parser.HasBookingIntent(text):
		step := o.booking.Start(ctx, lang, text)
		plan = turnPlan{reply: step.Reply, booking: &step, escalate: step.Escalate}

	default:
		plan = o.respond(ctx, conv, out.Inbound, lang, text)
	}

	observed := conv.Booking
	var fired, forced bool
	updated, err := o.conversations.Update(ctx, conv.ID, func(c *domain.Conversation) error {
		fired, forced = false, false
		// An operator may have claimed the conversation while we were thinking
		if !c.AIEnabled() {
			return errSuppressed
		}
		if plan.booking != nil {
			if !sameBooking(c.Booking, observed) {
				return errSuppressed
			}
			c.Booking = plan.booking.Next
			if plan.booking.Confirmed != nil {
				c.Handoff = c.Handoff.ForceEscalate()
				c.Visible = true
				fired, forced = true, true
				return nil
			}
		}
		if plan.escalate != "" {
			if h, ok := c.Handoff.Escalate(); ok {
				c.Handoff = h
				c.Visible = true
				fired = true
			}
		}
		return nil
	})
	if errors.Is(err, errSuppressed) {
		slog.Info("Conversation changed during automated turn, reply dropped",
			"conversation_id", conv.ID,
		)
		return out, nil
	}
	if err != nil {
		// The inbound message is logged; without a state write no reply goes out
		slog.Error("Failed to update conversation state", "error", err, "conversation_id", conv.ID)
		return out, nil
	}
	out.Conversation = updated

	reply := &domain.Message{ConversationID: updated.ID, Sender: domain.SenderAI, Body: plan.reply}
	if err := o.messages.Append(ctx, reply); err != nil {
		slog.Error("Failed to save automated reply", "error", err, "conversation_id", updated.ID)
	} else {
		out.Reply = reply
		o.publish(domain.NewMessageEvent(updated, reply))
	}
	out.DeliveryErr = o.deliver(ctx, updated, plan.reply)

	if fired {
		out.Escalated = true
		reason := plan.escalate
		event := domain.NeedsAttentionEvent(updated.ID, reason)
		if forced {
			reason = domain.ReasonBookingConfirmed
			event = domain.NeedsAttentionEvent(updated.ID, reason).
				With("booking", bookingSummary(plan.booking.Confirmed))
		}
		slog.Info("Conversation escalated to operators",
			"conversation_id", updated.ID,
			"reason", reason,
		)
		o.publish(event)
		o.publish(domain.StateChangedEvent(updated))
		o.notify(ctx, updated, reason)
	} else if plan.booking != nil {
		o.publish(domain.StateChangedEvent(updated))
	}

	return out, nil
}

// respond asks the automated responder. Failure degrades to a fixed apology
// that escalates; an apologetic reply escalates too.
func (o *Orchestrator) respond(ctx context.Context, conv *domain.Conversation, current *domain.Message, lang, text string) turnPlan {
	recent, err := o.messages.Recent(ctx, conv.ID, o.historySize, current.ID)
	if err != nil {
		slog.Warn("Failed to load history, answering without it", "error", err, "conversation_id", conv.ID)
		recent = nil
	}
	history := make([]*domain.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		history = append(history, recent[i])
	}

	reply, err := o.responder.Reply(ctx, ports.ResponderRequest{
		ConversationID: conv.ID,
		Language:       lang,
		History:        history,
		Text:           text,
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		slog.Error("Automated responder failed, falling back to apology",
			"error", err,
			"conversation_id", conv.ID,
		)
		return turnPlan{reply: o.parser.Reply(lang, parser.ReplyApology, nil), escalate: domain.ReasonResponderFailure}
	}
	if o.parser.IsApology(reply) {
		return turnPlan{reply: reply, escalate: domain.ReasonResponderApology}
	}
	return turnPlan{reply: reply}
}

// ============================================================================
// Operator actions
// ============================================================================

// HandleOperatorMessage logs and relays an operator-authored message. The
// operator claims the conversation; automation never sees the text.
func (o *Orchestrator) HandleOperatorMessage(ctx context.Context, conversationID, operator, text string) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if operator == "" {
		return nil, domain.ErrOperatorRequired
	}
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}

	var changed bool
	conv, err := o.conversations.Update(ctx, conversationID, func(c *domain.Conversation) error {
		h, err := c.Handoff.Claim(operator)
		if err != nil {
			return err
		}
		changed = h != c.Handoff || !c.Visible
		c.Handoff = h
		c.Visible = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	sender := operator
	msg := &domain.Message{
		ConversationID: conv.ID,
		Sender:         domain.SenderAgent,
		SenderID:       &sender,
		Body:           text,
	}
	if err := o.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("save operator message: %w", err)
	}

	o.publish(domain.NewMessageEvent(conv, msg))
	if changed {
		o.publish(domain.StateChangedEvent(conv))
	}

	out := &Outcome{Conversation: conv, Reply: msg}
	out.DeliveryErr = o.deliver(ctx, conv, text)
	return out, nil
}

// TakeOver gives operator exclusive ownership. Repeating it is a no-op.
func (o *Orchestrator) TakeOver(ctx context.Context, conversationID, operator string) (*domain.Conversation, error) {
	var changed bool
	conv, err := o.conversations.Update(ctx, conversationID, func(c *domain.Conversation) error {
		h, err := c.Handoff.Claim(operator)
		if err != nil {
			return err
		}
		changed = h != c.Handoff || !c.Visible
		c.Handoff = h
		c.Visible = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		slog.Info("Operator took over conversation", "conversation_id", conv.ID, "operator", operator)
		o.publish(domain.StateChangedEvent(conv))
	}
	return conv, nil
}

// HandBack returns the conversation to automation. Only the owning operator
// may hand back; repeating it on an automated conversation is a no-op.
func (o *Orchestrator) HandBack(ctx context.Context, conversationID, operator string) (*domain.Conversation, error) {
	if operator == "" {
		return nil, domain.ErrOperatorRequired
	}
	var changed bool
	conv, err := o.conversations.Update(ctx, conversationID, func(c *domain.Conversation) error {
		h, err := c.Handoff.Release(operator)
		if err != nil {
			return err
		}
		changed = h != c.Handoff
		c.Handoff = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		slog.Info("Operator handed conversation back", "conversation_id", conv.ID, "operator", operator)
		o.publish(domain.StateChangedEvent(conv))
	}
	return conv, nil
}

// SetTyping relays an operator typing indicator
func (o *Orchestrator) SetTyping(ctx context.Context, conversationID, operator string, typing bool) error {
	if operator == "" {
		return domain.ErrOperatorRequired
	}
	conv, err := o.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	o.publish(domain.AgentTypingEvent(conversationID, operator, typing))

	// Mirror the indicator on platforms that support it; best effort
	if ts, ok := o.adapters[conv.Channel].(ports.TypingSender); ok {
		if err := ts.SendTyping(ctx, conv.Destination(), typing); err != nil {
			slog.Debug("Typing indicator not relayed", "error", err, "conversation_id", conv.ID)
		}
	}
	return nil
}

// ============================================================================
// Queries and administration
// ============================================================================

// Conversation returns one conversation
func (o *Orchestrator) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return o.conversations.GetByID(ctx, id)
}

// Conversations lists conversations for the operator dashboard
func (o *Orchestrator) Conversations(ctx context.Context, filter ports.ConversationFilter) ([]*domain.Conversation, error) {
	return o.conversations.List(ctx, filter)
}

// History returns a conversation's message log in chronological order
func (o *Orchestrator) History(ctx context.Context, id string, limit int) ([]*domain.Message, error) {
	if _, err := o.conversations.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return o.messages.History(ctx, id, limit)
}

// Purge deletes a conversation and its log
func (o *Orchestrator) Purge(ctx context.Context, id, operator string) error {
	if err := o.conversations.Purge(ctx, id); err != nil {
		return err
	}
	slog.Warn("Conversation purged", "conversation_id", id, "operator", operator)
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// deliver sends text through the conversation's channel. Failures are logged
// and surfaced but never undo what was already persisted.
func (o *Orchestrator) deliver(ctx context.Context, conv *domain.Conversation, text string) error {
	adapter, ok := o.adapters[conv.Channel]
	if !ok {
		err := fmt.Errorf("no channel adapter for %s", conv.Channel)
		slog.Error("Delivery failed", "error", err, "conversation_id", conv.ID)
		o.publish(domain.DeliveryFailedEvent(conv, err))
		return err
	}
	if err := adapter.Deliver(ctx, conv.Destination(), text); err != nil {
		slog.Error("Delivery failed",
			"error", err,
			"conversation_id", conv.ID,
			"channel", conv.Channel,
		)
		o.publish(domain.DeliveryFailedEvent(conv, err))
		return err
	}
	return nil
}

func (o *Orchestrator) publish(event domain.Event) {
	if o.events != nil {
		o.events.Publish(event)
	}
}

func (o *Orchestrator) notify(ctx context.Context, conv *domain.Conversation, reason string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyAttention(ctx, conv, reason); err != nil {
		slog.Warn("Operator notification failed", "error", err, "conversation_id", conv.ID)
	}
}

// sameBooking compares dialogue states by phase and collected fields
func sameBooking(a, b *domain.Booking) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Phase != b.Phase || a.Guests != b.Guests || a.Room != b.Room || a.TotalCost != b.TotalCost {
		return false
	}
	if (a.Dates == nil) != (b.Dates == nil) {
		return false
	}
	return a.Dates == nil || (a.Dates.CheckIn.Equal(b.Dates.CheckIn) && a.Dates.CheckOut.Equal(b.Dates.CheckOut))
}
