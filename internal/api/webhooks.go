package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // ADO signs webhooks with HMAC-SHA1, not a choice this receiver gets to make.
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/dispatcher"
	"github.com/hermesrelay/hermes/internal/formatter"
	"github.com/hermesrelay/hermes/internal/metrics"
)

// WebhookHandler implements POST /webhooks/ado: §4.6's authenticate,
// schedule, fast-ack receiver.
type WebhookHandler struct {
	secret   []byte
	fmt      *formatter.Formatter
	dispatch *dispatcher.Dispatcher
	logger   *zap.Logger
}

// NewWebhookHandler constructs a WebhookHandler. secret may be empty, in
// which case signature verification is skipped entirely (matching the
// original tool's opt-in HMAC check).
func NewWebhookHandler(secret string, f *formatter.Formatter, d *dispatcher.Dispatcher, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:   []byte(secret),
		fmt:      f,
		dispatch: d,
		logger:   logger.Named("webhook_handler"),
	}
}

type webhookAcceptedResponse struct {
	Status    string `json:"status"`
	EventType string `json:"eventType"`
}

// Receive handles POST /webhooks/ado. Body bytes are read before any JSON
// decoding so the raw bytes can be HMAC-verified exactly as ADO signed them.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		ErrBadRequest(w, "failed to read request body")
		return
	}

	if len(h.secret) > 0 {
		if !h.verifySignature(r.Header.Get("X-Hub-Signature"), body) {
			ErrUnauthorized(w)
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		ErrBadRequest(w, "invalid JSON body")
		return
	}

	eventType, _ := payload["eventType"].(string)
	if eventType == "" {
		ErrBadRequest(w, "eventType is required")
		return
	}

	metrics.WebhooksReceivedTotal.WithLabelValues(eventType).Inc()

	// Format + dispatch happen in the background: ADO retries aggressively
	// on slow responses, and fan-out can take seconds when identity lookups
	// are cold. The webhook response must never block on it.
	go h.formatAndDispatch(eventType, payload)

	Ok(w, webhookAcceptedResponse{Status: "accepted", EventType: eventType})
}

// verifySignature compares "sha1=" + hex(HMAC-SHA1(secret, body)) against
// header using a constant-time comparison, per §8 Invariant 6.
func (h *WebhookHandler) verifySignature(header string, body []byte) bool {
	const prefix = "sha1="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	given := strings.TrimPrefix(header, prefix)

	mac := hmac.New(sha1.New, h.secret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(given), []byte(want))
}

func (h *WebhookHandler) formatAndDispatch(eventType string, payload map[string]any) {
	// Detached from the request context: the webhook response has already
	// been written, and the dispatch must run to completion regardless of
	// whether the client that posted the webhook is still connected.
	ctx := context.Background()

	n, ok := h.fmt.Format(ctx, eventType, payload)
	if !ok {
		metrics.WebhooksUnhandledTotal.WithLabelValues(eventType).Inc()
		h.logger.Debug("dropping unhandled event type", zap.String("event_type", eventType))
		return
	}

	count, err := h.dispatch.Dispatch(ctx, *n)
	if err != nil {
		h.logger.Error("dispatch failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	h.logger.Debug("dispatched notification",
		zap.String("event_type", eventType),
		zap.Int("delivered_to", count),
	)
}
