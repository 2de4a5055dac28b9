package ports

import (
	"context"
	"time"

	"hotel-concierge/internal/core/domain"
)

// ResponderRequest is everything the automated responder sees for one turn
type ResponderRequest struct {
	ConversationID string
	Language       string
	History        []*domain.Message // chronological, oldest first
	Text           string
}

// Responder produces an automated reply. Implementations own their retry
// schedule and return an error only after giving up.
type Responder interface {
	Reply(ctx context.Context, req ResponderRequest) (string, error)
}

// AvailabilityOracle answers whether any night of a stay is fully booked
type AvailabilityOracle interface {
	FullyBooked(ctx context.Context, stay domain.DateRange) (bool, error)
}

// ChannelAdapter pushes text to one external platform
type ChannelAdapter interface {
	Channel() domain.Channel
	// Deliver validates, truncates and sends text with bounded retries
	Deliver(ctx context.Context, destination, text string) error
}

// TypingSender is implemented by channels that can show an operator typing
// indicator to the guest
type TypingSender interface {
	SendTyping(ctx context.Context, destination string, on bool) error
}

// Broadcaster fans UI events out to the presentation layer. Delivery is
// at-most-once; Publish never blocks on slow consumers.
type Broadcaster interface {
	Publish(event domain.Event)
}

// Notifier alerts operators outside the dashboard when a conversation needs attention
type Notifier interface {
	NotifyAttention(ctx context.Context, conv *domain.Conversation, reason string) error
}

// TextParser reads booking facts out of guest text and renders replies in the
// guest's language. Parse failures are typed errors, never escalations.
type TextParser interface {
	DetectLanguage(text string) string
	HasBookingIntent(text string) bool
	WantsHuman(text string) bool
	IsCancel(text string) bool
	IsAffirmative(text string) bool
	IsApology(reply string) bool
	ParseRange(text string) (domain.DateRange, error)
	ParseGuests(text string) (int, error)
	ParseRoom(text string) (domain.RoomType, error)
	MaxGuests() int
	Reply(lang, key string, vars map[string]string) string
	FormatDate(lang string, t time.Time) string
}
