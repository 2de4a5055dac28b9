package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstagram(url string) *InstagramClient {
	c := NewInstagramClient(url, "PAGE_TOKEN")
	c.policy = fastPolicy
	return c
}

func TestInstagramClient_Deliver(t *testing.T) {
	var got SendMessageRequest
	srv := newScriptedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/me/messages", r.URL.Path)
		assert.Equal(t, "PAGE_TOKEN", r.URL.Query().Get("access_token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(http.StatusOK, `{"recipient_id":"IGSID_1","message_id":"m_1"}`)(w, r)
	})

	require.NoError(t, newTestInstagram(srv.URL).Deliver(context.Background(), "IGSID_1", "hola"))
	assert.Equal(t, "IGSID_1", got.Recipient.ID)
	assert.Equal(t, "hola", got.Message.Text)
	assert.Equal(t, "RESPONSE", got.MessagingType)
}

func TestInstagramClient_GraphErrors(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		want  error
		tries int32
	}{
		{"expired token", `{"error":{"message":"Session expired","code":190}}`, ErrTokenExpired, 1},
		{"permission", `{"error":{"message":"Missing permission","code":10}}`, ErrPermissionDenied, 1},
		{"rate limited", `{"error":{"message":"Too many calls","code":613}}`, ErrRateLimited, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newScriptedServer(t, respond(http.StatusBadRequest, tc.body))
			err := newTestInstagram(srv.URL).Deliver(context.Background(), "IGSID_1", "hola")
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.tries, srv.hits.Load())
		})
	}
}

func TestInstagramClient_EmptyRecipient(t *testing.T) {
	err := newTestInstagram("http://unused").Deliver(context.Background(), " ", "hola")
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestInstagramClient_SendTyping(t *testing.T) {
	var got map[string]any
	srv := newScriptedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(http.StatusOK, `{}`)(w, r)
	})

	require.NoError(t, newTestInstagram(srv.URL).SendTyping(context.Background(), "IGSID_1", true))
	assert.Equal(t, "typing_on", got["sender_action"])
}
