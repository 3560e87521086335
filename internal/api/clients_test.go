package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/models"
	"github.com/hermesrelay/hermes/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()}, zap.NewNop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mountClientRoutes(h *ClientHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/clients/register", h.Register)
	r.Get("/clients", h.List)
	r.Delete("/clients/{id}", h.Delete)
	r.Put("/clients/{id}/subscriptions", h.UpdateSubscriptions)
	return r
}

func TestClientRegisterIsIdempotentOnCallbackURL(t *testing.T) {
	h := NewClientHandler(newTestStore(t), zap.NewNop())
	r := mountClientRoutes(h)

	body, _ := json.Marshal(registerClientRequest{
		Name:          "desk-1",
		CallbackURL:   "http://127.0.0.1:9/notify",
		ADOUserID:     "user-a",
		Subscriptions: []models.EventType{models.EventPR},
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/clients/register", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("register #%d status = %d, body=%s", i, rec.Code, rec.Body.String())
		}
	}

	listReq := httptest.NewRequest(http.MethodGet, "/clients", nil)
	listRec := httptest.NewRecorder()
	r.ServeHTTP(listRec, listReq)

	var resp struct {
		Data []clientResponse `json:"data"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("client count = %d, want 1 (re-registration should update, not duplicate)", len(resp.Data))
	}
}

func TestClientDeleteIsIdempotentAnd404sOnUnknownID(t *testing.T) {
	h := NewClientHandler(newTestStore(t), zap.NewNop())
	r := mountClientRoutes(h)

	body, _ := json.Marshal(registerClientRequest{CallbackURL: "http://127.0.0.1:9/notify"})
	regReq := httptest.NewRequest(http.MethodPost, "/clients/register", bytes.NewReader(body))
	regRec := httptest.NewRecorder()
	r.ServeHTTP(regRec, regReq)

	var regResp struct {
		Data clientResponse `json:"data"`
	}
	if err := json.Unmarshal(regRec.Body.Bytes(), &regResp); err != nil {
		t.Fatalf("decode register: %v", err)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/clients/"+regResp.Data.ID, nil)
	delRec := httptest.NewRecorder()
	r.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("first delete status = %d", delRec.Code)
	}

	againReq := httptest.NewRequest(http.MethodDelete, "/clients/"+regResp.Data.ID, nil)
	againRec := httptest.NewRecorder()
	r.ServeHTTP(againRec, againReq)
	if againRec.Code != http.StatusNoContent {
		t.Fatalf("second delete status = %d, want 204 (soft-delete is idempotent)", againRec.Code)
	}

	missingReq := httptest.NewRequest(http.MethodDelete, "/clients/does-not-exist", nil)
	missingRec := httptest.NewRecorder()
	r.ServeHTTP(missingRec, missingReq)
	if missingRec.Code != http.StatusNotFound {
		t.Fatalf("delete of unknown id status = %d, want 404", missingRec.Code)
	}
}

func TestClientUpdateSubscriptions404sOnUnknownID(t *testing.T) {
	h := NewClientHandler(newTestStore(t), zap.NewNop())
	r := mountClientRoutes(h)

	body, _ := json.Marshal([]models.EventType{models.EventPipeline})
	req := httptest.NewRequest(http.MethodPut, "/clients/does-not-exist/subscriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
