package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/stream"
)

// StreamHandler implements GET /notifications/stream, the admin live-tail
// (§11.2).
type StreamHandler struct {
	hub    *stream.Hub
	logger *zap.Logger
}

// NewStreamHandler constructs a StreamHandler.
func NewStreamHandler(hub *stream.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger.Named("stream_handler")}
}

// Serve upgrades the request to a WebSocket and blocks for the connection's
// lifetime.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	c, err := stream.NewClient(h.hub, w, r, h.logger)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c.Run()
}
