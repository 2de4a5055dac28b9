package gateway

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hotel-concierge/internal/resilience"
)

// fastPolicy keeps retry tests quick
var fastPolicy = resilience.Policy{Attempts: 3, Base: time.Millisecond}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hell…", truncate("hello world", 5))
	assert.Equal(t, "ñañ…", truncate("ñañañaña", 4))
	assert.Len(t, []rune(truncate(strings.Repeat("a", 5000), TelegramMaxText)), TelegramMaxText)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
		limited   bool
	}{
		{http.StatusBadRequest, true, false},
		{http.StatusForbidden, true, false},
		{http.StatusNotFound, true, false},
		{http.StatusTooManyRequests, false, true},
		{http.StatusInternalServerError, false, false},
		{http.StatusBadGateway, false, false},
	}
	for _, tc := range cases {
		err := classify(&APIError{Platform: "test", Status: tc.status})
		assert.Equal(t, tc.permanent, resilience.IsPermanent(err), "status %d", tc.status)
		assert.Equal(t, tc.limited, isRateLimited(err), "status %d", tc.status)

		var apiErr *APIError
		assert.ErrorAs(t, err, &apiErr)
	}
}
