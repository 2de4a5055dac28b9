package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-concierge/internal/core/domain"
)

func TestSlackNotifier_NotifyAttention(t *testing.T) {
	var got map[string]any
	srv := newScriptedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(http.StatusOK, `ok`)(w, r)
	})

	n := NewSlackNotifier(srv.URL, "https://dash.hotel.example/")
	conv := &domain.Conversation{ID: "conv-1", Channel: domain.ChannelWhatsApp, LastText: "yes"}
	require.NoError(t, n.NotifyAttention(context.Background(), conv, domain.ReasonBookingConfirmed))

	assert.Equal(t, "New booking request", got["text"])
	raw, err := json.Marshal(got["blocks"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "conv-1")
	assert.Contains(t, string(raw), "https://dash.hotel.example/conversations/conv-1")
}

func TestSlackNotifier_Failure(t *testing.T) {
	srv := newScriptedServer(t, respond(http.StatusInternalServerError, `internal error`))

	n := NewSlackNotifier(srv.URL, "")
	err := n.NotifyAttention(context.Background(), &domain.Conversation{ID: "c"}, "something_else")
	assert.Error(t, err)
}
