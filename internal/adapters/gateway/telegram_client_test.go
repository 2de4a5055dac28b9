package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTelegram(url string) *TelegramClient {
	c := NewTelegramClient(url, "TOKEN")
	c.policy = fastPolicy
	return c
}

func TestTelegramClient_Deliver(t *testing.T) {
	var got map[string]any
	srv := newScriptedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(http.StatusOK, `{"ok":true,"result":{"message_id":5}}`)(w, r)
	})

	err := newTestTelegram(srv.URL).Deliver(context.Background(), "-100123", "Hello guest")
	require.NoError(t, err)
	assert.Equal(t, float64(-100123), got["chat_id"])
	assert.Equal(t, "Hello guest", got["text"])
}

func TestTelegramClient_TruncatesLongText(t *testing.T) {
	var got map[string]any
	srv := newScriptedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(http.StatusOK, `{"ok":true}`)(w, r)
	})

	require.NoError(t, newTestTelegram(srv.URL).Deliver(context.Background(), "42", strings.Repeat("x", 5000)))
	text := got["text"].(string)
	assert.Len(t, []rune(text), TelegramMaxText)
	assert.True(t, strings.HasSuffix(text, "…"))
}

func TestTelegramClient_InvalidChatID(t *testing.T) {
	srv := newScriptedServer(t, respond(http.StatusOK, `{"ok":true}`))

	err := newTestTelegram(srv.URL).Deliver(context.Background(), "@someone", "hi")
	assert.ErrorIs(t, err, ErrInvalidDestination)
	assert.Zero(t, srv.hits.Load())
}

func TestTelegramClient_RetriesServerErrors(t *testing.T) {
	srv := newScriptedServer(t,
		respond(http.StatusBadGateway, `bad gateway`),
		respond(http.StatusOK, `{"ok":true}`),
	)

	require.NoError(t, newTestTelegram(srv.URL).Deliver(context.Background(), "42", "hi"))
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestTelegramClient_ClientErrorIsPermanent(t *testing.T) {
	srv := newScriptedServer(t, respond(http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))

	err := newTestTelegram(srv.URL).Deliver(context.Background(), "42", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestTelegramClient_RateLimitedExhaustsAttempts(t *testing.T) {
	srv := newScriptedServer(t, respond(http.StatusTooManyRequests, `{"ok":false,"error_code":429,"parameters":{"retry_after":1}}`))

	err := newTestTelegram(srv.URL).Deliver(context.Background(), "42", "hi")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), srv.hits.Load())
}

func TestTelegramClient_SendTyping(t *testing.T) {
	srv := newScriptedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendChatAction", r.URL.Path)
		respond(http.StatusOK, `{"ok":true}`)(w, r)
	})
	c := newTestTelegram(srv.URL)

	require.NoError(t, c.SendTyping(context.Background(), "42", true))
	require.NoError(t, c.SendTyping(context.Background(), "42", false))
	assert.Equal(t, int32(1), srv.hits.Load(), "typing off is implicit")
}
