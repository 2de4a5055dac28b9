package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hotel-concierge/internal/adapters/repository"
	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/parser"
	"hotel-concierge/internal/core/ports"
)

// testNow is the fixed clock of the booking tests
var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type fakeResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	hook  func(req ports.ResponderRequest)
	calls []ports.ResponderRequest
}

func (f *fakeResponder) Reply(_ context.Context, req ports.ResponderRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	hook, reply, err := f.hook, f.reply, f.err
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return reply, err
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeOracle struct {
	mu     sync.Mutex
	booked bool
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeOracle) FullyBooked(context.Context, domain.DateRange) (bool, error) {
	f.mu.Lock()
	f.calls++
	booked, err, delay := f.booked, f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return booked, err
}

// failingLocker never grants the conversation lock
type failingLocker struct {
	err error
}

func (f failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, f.err
}

type delivery struct {
	Destination string
	Text        string
}

type fakeAdapter struct {
	mu      sync.Mutex
	channel domain.Channel
	err     error
	sent    []delivery
}

func (f *fakeAdapter) Channel() domain.Channel { return f.channel }

func (f *fakeAdapter) Deliver(_ context.Context, destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, delivery{Destination: destination, Text: text})
	return nil
}

func (f *fakeAdapter) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.sent...)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingBroadcaster) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingBroadcaster) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeNotifier) NotifyAttention(_ context.Context, _ *domain.Conversation, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

// engine bundles an orchestrator with its fakes
type engine struct {
	*Orchestrator
	repo      *repository.MemoryRepository
	parser    *parser.Parser
	responder *fakeResponder
	oracle    *fakeOracle
	telegram  *fakeAdapter
	dashboard *fakeAdapter
	events    *recordingBroadcaster
	notifier  *fakeNotifier
	aiSwitch  *AISwitch
}

func newTestParser(t *testing.T) *parser.Parser {
	t.Helper()
	p, err := parser.New(parser.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return p
}

func newEngine(t *testing.T, opts ...func(*OrchestratorDeps)) *engine {
	t.Helper()
	e := &engine{
		repo:      repository.NewMemoryRepository(),
		parser:    newTestParser(t),
		responder: &fakeResponder{reply: "Breakfast is served from 7 to 10."},
		oracle:    &fakeOracle{},
		telegram:  &fakeAdapter{channel: domain.ChannelTelegram},
		dashboard: &fakeAdapter{channel: domain.ChannelDashboard},
		events:    &recordingBroadcaster{},
		notifier:  &fakeNotifier{},
	}
	sw, err := NewAISwitch(context.Background(), e.repo, e.events)
	require.NoError(t, err)
	e.aiSwitch = sw

	deps := OrchestratorDeps{
		Conversations: e.repo,
		Messages:      e.repo,
		Parser:        e.parser,
		Booking:       NewBookingDialogue(e.parser, e.oracle, nil),
		Responder:     e.responder,
		Adapters:      []ports.ChannelAdapter{e.telegram, e.dashboard},
		Events:        e.events,
		Notifier:      e.notifier,
		AISwitch:      sw,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	e.Orchestrator = NewOrchestrator(deps)
	return e
}

// guest sends text as the Telegram user with chat id 42
func (e *engine) guest(t *testing.T, text string) *Outcome {
	t.Helper()
	out, err := e.HandleInbound(context.Background(), Inbound{
		Channel:    domain.ChannelTelegram,
		ExternalID: "42",
		Text:       text,
	})
	require.NoError(t, err)
	assertHandoffInvariant(t, out.Conversation)
	return out
}

// assertHandoffInvariant: ai_enabled iff nobody is assigned
func assertHandoffInvariant(t *testing.T, conv *domain.Conversation) {
	t.Helper()
	require.Equal(t, conv.AIEnabled(), conv.AssignedAgent() == nil,
		"ai_enabled=%v assigned_agent=%v", conv.AIEnabled(), conv.AssignedAgent())
}
