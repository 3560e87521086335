package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/adminauth"
	"github.com/hermesrelay/hermes/internal/dispatcher"
	"github.com/hermesrelay/hermes/internal/formatter"
	"github.com/hermesrelay/hermes/internal/store"
	"github.com/hermesrelay/hermes/internal/stream"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go after all components are initialized and passed to
// NewRouter as a single struct to keep the constructor signature manageable.
type RouterConfig struct {
	Store      *store.Store
	Formatter  *formatter.Formatter
	Dispatcher *dispatcher.Dispatcher
	Hub        *stream.Hub
	Logger     *zap.Logger

	// WebhookSecret is the shared secret ADO signs inbound webhooks with. May
	// be empty, in which case signature verification is skipped.
	WebhookSecret string

	// AdminAuth guards registry mutations. Nil disables admin auth entirely
	// (see internal/adminauth's RequireAdmin for the no-op behavior).
	AdminAuth *adminauth.Manager
}

// NewRouter builds and returns the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status, bytes
	// written, request ID and remote address.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	// --- Initialize handlers ---
	webhookHandler := NewWebhookHandler(cfg.WebhookSecret, cfg.Formatter, cfg.Dispatcher, cfg.Logger)
	clientHandler := NewClientHandler(cfg.Store, cfg.Logger)
	notificationHandler := NewNotificationHandler(cfg.Store, cfg.Dispatcher, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Hub, cfg.Logger)

	// --- Unauthenticated routes ---
	r.Get("/health", Health)
	r.Handle("/metrics", promhttp.Handler())

	// The webhook receiver authenticates via HMAC signature, not the admin
	// bearer token — ADO has no notion of the latter.
	r.Post("/webhooks/ado", webhookHandler.Receive)

	// Client self-registration is deliberately unauthenticated: a client
	// doesn't hold the admin secret, only its own callback URL.
	r.Post("/clients/register", clientHandler.Register)

	// --- Admin-guarded routes ---
	r.Group(func(r chi.Router) {
		r.Use(adminauth.RequireAdmin(cfg.AdminAuth))

		r.Get("/clients", clientHandler.List)
		r.Delete("/clients/{id}", clientHandler.Delete)
		r.Put("/clients/{id}/subscriptions", clientHandler.UpdateSubscriptions)

		r.Post("/notifications/send", notificationHandler.Send)
		r.Get("/notifications/logs", notificationHandler.Logs)
		r.Get("/notifications/stream", streamHandler.Serve)
	})

	return r
}
