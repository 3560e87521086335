package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/metrics"
	"github.com/hermesrelay/hermes/internal/models"
	"github.com/hermesrelay/hermes/internal/store"
)

// ClientHandler groups the client-registry HTTP handlers (§4.7).
type ClientHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewClientHandler constructs a ClientHandler.
func NewClientHandler(st *store.Store, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{store: st, logger: logger.Named("client_handler")}
}

// clientResponse is the wire shape of a Client. Restores registered_at and
// last_seen to the response (§12.1 supplemented feature) — useful to any
// dashboard built against this API, and no more sensitive than the rest of
// the record.
type clientResponse struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	CallbackURL   string             `json:"callback_url"`
	ADOUserID     string             `json:"ado_user_id"`
	DisplayName   string             `json:"display_name"`
	Subscriptions []models.EventType `json:"subscriptions"`
	Active        bool               `json:"active"`
	RegisteredAt  string             `json:"registered_at"`
	LastSeen      string             `json:"last_seen"`
}

func clientToResponse(c models.Client) clientResponse {
	return clientResponse{
		ID:            c.ID,
		Name:          c.Name,
		CallbackURL:   c.CallbackURL,
		ADOUserID:     c.ADOUserID,
		DisplayName:   c.DisplayName,
		Subscriptions: c.Subscriptions,
		Active:        c.Active,
		RegisteredAt:  c.RegisteredAt.UTC().Format(timeFormat),
		LastSeen:      c.LastSeen.UTC().Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z"

type registerClientRequest struct {
	Name          string             `json:"name"`
	CallbackURL   string             `json:"callback_url"`
	ADOUserID     string             `json:"ado_user_id"`
	DisplayName   string             `json:"display_name"`
	Subscriptions []models.EventType `json:"subscriptions"`
}

// Register handles POST /clients/register. Idempotent on callback_url: a
// second registration with the same URL updates the existing record
// (reactivating it if it was soft-deleted) instead of duplicating it.
func (h *ClientHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CallbackURL == "" {
		ErrBadRequest(w, "callback_url is required")
		return
	}

	existing, err := h.store.GetByCallback(r.Context(), req.CallbackURL)
	var c models.Client
	if err == nil {
		c = *existing
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("lookup by callback url", zap.Error(err))
		ErrInternal(w)
		return
	}

	c.Name = req.Name
	c.CallbackURL = req.CallbackURL
	c.ADOUserID = req.ADOUserID
	c.DisplayName = req.DisplayName
	c.Subscriptions = req.Subscriptions

	if err := h.store.Save(r.Context(), &c); err != nil {
		h.logger.Error("save client", zap.Error(err))
		ErrInternal(w)
		return
	}
	refreshActiveGauge(r, h.store)

	Created(w, clientToResponse(c))
}

// List handles GET /clients.
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.ListClients(r.Context())
	if err != nil {
		h.logger.Error("list clients", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]clientResponse, len(clients))
	for i, c := range clients {
		items[i] = clientToResponse(c)
	}
	Ok(w, items)
}

// Delete handles DELETE /clients/{id}: soft-delete, idempotent.
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("delete client", zap.String("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	if !ok {
		ErrNotFound(w)
		return
	}
	refreshActiveGauge(r, h.store)
	NoContent(w)
}

// UpdateSubscriptions handles PUT /clients/{id}/subscriptions.
func (h *ClientHandler) UpdateSubscriptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var subs []models.EventType
	if !decodeSubscriptions(w, r, &subs) {
		return
	}

	if err := h.store.UpdateSubscriptions(r.Context(), id, subs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update subscriptions", zap.String("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}

// decodeSubscriptions decodes a bare JSON array body (not wrapped in an
// object), since §4.7 specifies the PUT body as "array of tags".
func decodeSubscriptions(w http.ResponseWriter, r *http.Request, dst *[]models.EventType) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func refreshActiveGauge(r *http.Request, st *store.Store) {
	stats := st.Stats(r.Context())
	metrics.ClientsActive.Set(float64(stats.ActiveClients))
}
