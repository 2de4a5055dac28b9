package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioClient_Deliver(t *testing.T) {
	srv := newScriptedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "whatsapp:+15550000000", r.PostForm.Get("From"))
		assert.Equal(t, "whatsapp:+5215512345678", r.PostForm.Get("To"))
		assert.Equal(t, "Your room is ready", r.PostForm.Get("Body"))
		respond(http.StatusCreated, `{"sid":"SM1","status":"queued"}`)(w, r)
	})

	c := NewTwilioClient(srv.URL, "AC123", "secret", "whatsapp:+15550000000")
	c.policy = fastPolicy
	require.NoError(t, c.Deliver(context.Background(), "5215512345678", "Your room is ready"))
}

func TestTwilioClient_RejectsBadNumbers(t *testing.T) {
	srv := newScriptedServer(t, respond(http.StatusCreated, `{}`))
	c := NewTwilioClient(srv.URL, "AC123", "secret", "+15550000000")

	for _, dest := range []string{"", "12345", "+0123456789", "call me", "+1234567890123456"} {
		err := c.Deliver(context.Background(), dest, "hi")
		assert.ErrorIs(t, err, ErrInvalidDestination, dest)
	}
	assert.Zero(t, srv.hits.Load())
}

func TestTwilioClient_AuthFailureIsPermanent(t *testing.T) {
	srv := newScriptedServer(t, respond(http.StatusUnauthorized, `{"code":20003,"message":"Authenticate"}`))
	c := NewTwilioClient(srv.URL, "AC123", "wrong", "+15550000000")
	c.policy = fastPolicy

	err := c.Deliver(context.Background(), "+15551234567", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, int32(1), srv.hits.Load())
}
