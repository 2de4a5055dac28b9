package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"hotel-concierge/internal/adapters/dto"
	"hotel-concierge/internal/core/domain"
)

// maxBodyBytes caps webhook and API request bodies
const maxBodyBytes = 1 << 20

// WebhookSubmitter queues a raw platform payload for background processing
type WebhookSubmitter interface {
	Submit(ctx context.Context, platform domain.Channel, payload []byte) error
}

// WebhookSecrets holds the per-platform verification material. An empty value
// disables the corresponding check (local development only).
type WebhookSecrets struct {
	TelegramSecretToken string // echoed by Telegram in X-Telegram-Bot-Api-Secret-Token
	TwilioAuthToken     string // signs X-Twilio-Signature
	PublicBaseURL       string // external URL Twilio signs, e.g. https://hotel.example.com
	InstagramAppSecret  string // signs X-Hub-Signature-256
	InstagramVerify     string // hub.verify_token of the subscription handshake
}

// WebhookHandler receives platform webhooks.
// Platforms expect a fast answer: payloads are verified, queued and
// acknowledged; processing happens on the dispatcher's workers.
type WebhookHandler struct {
	dispatcher WebhookSubmitter
	secrets    WebhookSecrets
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(dispatcher WebhookSubmitter, secrets WebhookSecrets) *WebhookHandler {
	if secrets.TelegramSecretToken == "" {
		slog.Warn("Telegram webhook secret not set, requests are not verified")
	}
	if secrets.TwilioAuthToken == "" {
		slog.Warn("Twilio auth token not set, WhatsApp webhooks are not verified")
	}
	if secrets.InstagramAppSecret == "" {
		slog.Warn("Instagram app secret not set, webhooks are not verified")
	}
	return &WebhookHandler{dispatcher: dispatcher, secrets: secrets}
}

// ============================================================================
// POST /webhook/telegram
// ============================================================================

// HandleTelegram accepts a Telegram Bot API update
func (h *WebhookHandler) HandleTelegram(w http.ResponseWriter, r *http.Request) {
	if want := h.secrets.TelegramSecretToken; want != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			slog.Warn("Telegram webhook rejected: bad secret token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.enqueue(w, r, domain.ChannelTelegram, body)
}

// ============================================================================
// POST /webhook/whatsapp
// ============================================================================

// HandleWhatsApp accepts a Twilio WhatsApp message. Twilio posts a form; the
// fields are re-encoded as JSON so every platform audits the same way.
func (h *WebhookHandler) HandleWhatsApp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if token := h.secrets.TwilioAuthToken; token != "" {
		signature := r.Header.Get("X-Twilio-Signature")
		if signature == "" || !validTwilioSignature(token, h.twilioURL(r), r.PostForm, signature) {
			slog.Warn("WhatsApp webhook rejected: bad Twilio signature", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	body, err := json.Marshal(dto.TwilioMessageFromForm(r.PostForm))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	h.enqueue(w, r, domain.ChannelWhatsApp, body)
}

// twilioURL rebuilds the URL Twilio signed
func (h *WebhookHandler) twilioURL(r *http.Request) string {
	if base := strings.TrimRight(h.secrets.PublicBaseURL, "/"); base != "" {
		return base + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") == "http" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// validTwilioSignature checks base64(HMAC-SHA1(token, url + sorted key/value pairs))
// Ref: https://www.twilio.com/docs/usage/webhooks/webhooks-security
func validTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ============================================================================
// GET /webhook/instagram - Subscription Verification
// ============================================================================

// HandleInstagramVerify answers the Graph API subscription handshake
// Ref: https://developers.facebook.com/docs/graph-api/webhooks/getting-started
func (h *WebhookHandler) HandleInstagramVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")

	if mode == "subscribe" && h.secrets.InstagramVerify != "" && token == h.secrets.InstagramVerify {
		slog.Info("Instagram webhook verification successful")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}

	slog.Warn("Instagram webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// ============================================================================
// POST /webhook/instagram - Messaging Events
// ============================================================================

// HandleInstagramEvent accepts Instagram messaging events
func (h *WebhookHandler) HandleInstagramEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	if secret := h.secrets.InstagramAppSecret; secret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" {
			slog.Warn("Instagram webhook received without signature header")
			http.Error(w, "Forbidden - No signature", http.StatusForbidden)
			return
		}
		if !validHubSignature(secret, body, signature) {
			slog.Warn("Instagram webhook signature validation failed")
			http.Error(w, "Forbidden - Invalid signature", http.StatusForbidden)
			return
		}
	}

	h.enqueue(w, r, domain.ChannelInstagram, body)
}

// validHubSignature validates "sha256=<hex HMAC-SHA256 of the raw body>"
func validHubSignature(appSecret string, payload []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(payload)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(strings.TrimPrefix(header, prefix)))
}

// ============================================================================
// Helpers
// ============================================================================

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// enqueue hands the payload to the dispatcher and acknowledges. When every
// worker stays busy until the request ends, the platform gets a 503 and
// retries later; dedup makes the redelivery safe.
func (h *WebhookHandler) enqueue(w http.ResponseWriter, r *http.Request, platform domain.Channel, body []byte) {
	if err := h.dispatcher.Submit(r.Context(), platform, body); err != nil {
		slog.Error("Webhook not queued", "error", err, "platform", platform)
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	slog.Info("Webhook received and queued for processing",
		"platform", platform,
		"content_length", len(body),
	)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}
