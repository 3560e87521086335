package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/dispatcher"
	"github.com/hermesrelay/hermes/internal/models"
)

func mountNotificationRoutes(h *NotificationHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/notifications/send", h.Send)
	r.Get("/notifications/logs", h.Logs)
	return r
}

func TestNotificationSendDeliversToSubscribedClientAndAppearsInLogs(t *testing.T) {
	var delivered int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t)
	if err := st.Save(t.Context(), &models.Client{
		CallbackURL:   srv.URL,
		Active:        true,
		Subscriptions: []models.EventType{models.EventManual},
	}); err != nil {
		t.Fatalf("save client: %v", err)
	}

	d := dispatcher.New(st, noGroups{}, nil, zap.NewNop())
	h := NewNotificationHandler(st, d, zap.NewNop())
	r := mountNotificationRoutes(h)

	body, _ := json.Marshal(sendNotificationRequest{Heading: "Hello"})
	sendReq := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader(body))
	sendRec := httptest.NewRecorder()
	r.ServeHTTP(sendRec, sendReq)

	if sendRec.Code != http.StatusOK {
		t.Fatalf("send status = %d, body=%s", sendRec.Code, sendRec.Body.String())
	}

	var sendResp struct {
		Data sendNotificationResponse `json:"data"`
	}
	if err := json.Unmarshal(sendRec.Body.Bytes(), &sendResp); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	if sendResp.Data.DeliveredTo != 1 {
		t.Errorf("delivered_to = %d, want 1", sendResp.Data.DeliveredTo)
	}
	if delivered != 1 {
		t.Errorf("server received %d requests, want 1", delivered)
	}

	logsReq := httptest.NewRequest(http.MethodGet, "/notifications/logs?event_type=manual", nil)
	logsRec := httptest.NewRecorder()
	r.ServeHTTP(logsRec, logsReq)

	var logsResp struct {
		Data []models.LogEntry `json:"data"`
	}
	if err := json.Unmarshal(logsRec.Body.Bytes(), &logsResp); err != nil {
		t.Fatalf("decode logs response: %v", err)
	}
	if len(logsResp.Data) != 1 || !logsResp.Data[0].Success {
		t.Fatalf("logs = %+v, want one successful entry", logsResp.Data)
	}
}

func TestNotificationSendRequiresHeading(t *testing.T) {
	st := newTestStore(t)
	d := dispatcher.New(st, noGroups{}, nil, zap.NewNop())
	h := NewNotificationHandler(st, d, zap.NewNop())
	r := mountNotificationRoutes(h)

	req := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
