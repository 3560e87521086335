package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/dispatcher"
	"github.com/hermesrelay/hermes/internal/models"
	"github.com/hermesrelay/hermes/internal/store"
)

// NotificationHandler implements the manual-send and log-query endpoints
// (§4.8). Manual notifications are dispatched through the same
// relevance-predicate path as ADO-sourced ones — there is no separate
// "always deliver" shortcut (see DESIGN.md's simplification decision).
type NotificationHandler struct {
	store    *store.Store
	dispatch *dispatcher.Dispatcher
	logger   *zap.Logger
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(st *store.Store, d *dispatcher.Dispatcher, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{store: st, dispatch: d, logger: logger.Named("notification_handler")}
}

type sendNotificationRequest struct {
	Heading   string          `json:"heading"`
	Body      string          `json:"body"`
	URL       string          `json:"url"`
	Project   string          `json:"project"`
	AvatarB64 string          `json:"avatar_b64"`
	Mentions  models.Mentions `json:"mentions"`
	Meta      map[string]any  `json:"meta"`
}

type sendNotificationResponse struct {
	DeliveredTo int `json:"delivered_to"`
}

// Send handles POST /notifications/send: a manually authored notification,
// bypassing the ADO webhook path entirely. It goes to every active client
// subscribed to manual or all; mentions in the request body are carried in
// the payload but do not narrow the set of recipients.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Heading == "" {
		ErrBadRequest(w, "heading is required")
		return
	}

	n := models.Notification{
		EventType: models.EventManual,
		Heading:   req.Heading,
		Body:      req.Body,
		URL:       req.URL,
		Project:   req.Project,
		AvatarB64: req.AvatarB64,
		Mentions:  req.Mentions,
		Meta:      req.Meta,
	}

	count, err := h.dispatch.Dispatch(r.Context(), n)
	if err != nil {
		h.logger.Error("dispatch manual notification", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, sendNotificationResponse{DeliveredTo: count})
}

// Logs handles GET /notifications/logs?limit=&event_type=&client_id=.
func (h *NotificationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var eventType *models.EventType
	if raw := r.URL.Query().Get("event_type"); raw != "" {
		et := models.EventType(raw)
		eventType = &et
	}

	var clientID *string
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		clientID = &raw
	}

	entries, err := h.store.ReadLogs(r.Context(), limit, eventType, clientID)
	if err != nil {
		h.logger.Error("read logs", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, entries)
}
