package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDeps groups the HTTP handlers mounted by NewRouter
type RouterDeps struct {
	Webhooks  *WebhookHandler
	Dashboard *DashboardHandler
	Events    http.HandlerFunc // WebSocket upgrade for /ws/events
	APIKey    string           // bearer key for the operator API; empty = open
}

// NewRouter mounts every route
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/webhook", func(r chi.Router) {
		r.Post("/telegram", deps.Webhooks.HandleTelegram)
		r.Post("/whatsapp", deps.Webhooks.HandleWhatsApp)
		r.Get("/instagram", deps.Webhooks.HandleInstagramVerify)
		r.Post("/instagram", deps.Webhooks.HandleInstagramEvent)
	})

	if deps.Events != nil {
		r.Get("/ws/events", deps.Events)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))

		// The widget is public; everything else belongs to operators
		r.Post("/chat", deps.Dashboard.Chat)

		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(deps.APIKey))

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", deps.Dashboard.ListConversations)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", deps.Dashboard.GetConversation)
					r.Delete("/", deps.Dashboard.PurgeConversation)
					r.Get("/messages", deps.Dashboard.GetMessages)
					r.Post("/messages", deps.Dashboard.SendMessage)
					r.Post("/takeover", deps.Dashboard.TakeOver)
					r.Post("/handback", deps.Dashboard.HandBack)
					r.Post("/typing", deps.Dashboard.SetTyping)
				})
			})

			r.Get("/settings", deps.Dashboard.GetSettings)
			r.Post("/settings", deps.Dashboard.UpdateSettings)

			r.Get("/system/metrics", deps.Dashboard.GetSystemMetrics)
			r.Get("/status", deps.Dashboard.GetStatus)
		})
	})

	return r
}
