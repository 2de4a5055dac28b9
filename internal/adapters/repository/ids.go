package repository

import (
	"time"

	"github.com/google/uuid"

	"hotel-concierge/internal/core/domain"
)

// conversationNamespace scopes deterministic conversation ids
var conversationNamespace = uuid.MustParse("8a3c6f0e-2b7d-4c1a-9e55-3f1d2c7b9a10")

// ConversationID derives the stable id of (channel, external identity), so
// concurrent first contacts from one identity collapse to a single row.
func ConversationID(channel domain.Channel, externalID *string) string {
	key := domain.DashboardExternalID
	if externalID != nil {
		key = *externalID
	}
	return uuid.NewSHA1(conversationNamespace, []byte(string(channel)+"/"+key)).String()
}

// nextTimestamp returns now, bumped past last so per-conversation message
// timestamps are strictly increasing at microsecond precision
func nextTimestamp(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}
