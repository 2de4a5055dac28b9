package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-concierge/internal/core/domain"
)

func startHub(t *testing.T, secret string) (*EventHub, *httptest.Server) {
	t.Helper()
	hub := NewEventHub(secret)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var e domain.Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestEventHub_FanOutWithFilter(t *testing.T) {
	hub, srv := startHub(t, "")

	all := dial(t, srv, "")
	onlyC1 := dial(t, srv, "?conversation_id=c1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Publish(domain.NeedsAttentionEvent("c2", domain.ReasonKeyword))
	hub.Publish(domain.NeedsAttentionEvent("c1", domain.ReasonKeyword))
	hub.Publish(domain.SettingsUpdatedEvent("ai_enabled", false, "alice"))

	assert.Equal(t, "c2", readEvent(t, all).ConversationID)
	assert.Equal(t, "c1", readEvent(t, all).ConversationID)
	assert.Equal(t, domain.EventSettingsUpdated, readEvent(t, all).Type)

	first := readEvent(t, onlyC1)
	assert.Equal(t, "c1", first.ConversationID)
	assert.Equal(t, domain.EventNeedsAttention, first.Type)
	assert.Equal(t, domain.EventSettingsUpdated, readEvent(t, onlyC1).Type, "global events pass the filter")
}

func TestEventHub_RequiresSecret(t *testing.T) {
	_, srv := startHub(t, "s3cret")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dial(t, srv, "?secret_key=s3cret")
}

func TestEventHub_PublishNeverBlocks(t *testing.T) {
	// No Run loop: the broadcast buffer fills and the rest is dropped
	hub := NewEventHub("")

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBufferSize+10; i++ {
			hub.Publish(domain.NeedsAttentionEvent("c1", domain.ReasonKeyword))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
	assert.Equal(t, int64(10), hub.Dropped())
}

func TestEventHub_DisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t, "")

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
