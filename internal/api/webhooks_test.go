package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // matches ADO's signing scheme under test
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/dispatcher"
	"github.com/hermesrelay/hermes/internal/formatter"
	"github.com/hermesrelay/hermes/internal/identity"
	"github.com/hermesrelay/hermes/internal/models"
)

type stubStore struct {
	clients []models.Client
}

func (s stubStore) ListClients(context.Context) ([]models.Client, error) { return s.clients, nil }
func (s stubStore) UpdateLastSeen(context.Context, string, time.Time) error { return nil }
func (s stubStore) AppendLog(context.Context, models.LogEntry)            {}

type noGroups struct{}

func (noGroups) Groups(context.Context, string) identity.Groups { return identity.Groups{} }

func sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookReceiveRejectsBadSignature(t *testing.T) {
	f := formatter.New(zap.NewNop(), nil)
	d := dispatcher.New(stubStore{}, noGroups{}, nil, zap.NewNop())
	h := NewWebhookHandler("topsecret", f, d, zap.NewNop())

	body := []byte(`{"eventType":"git.pullrequest.created"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ado", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature", "sha1=deadbeef")
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestWebhookReceiveAcceptsValidSignature(t *testing.T) {
	f := formatter.New(zap.NewNop(), nil)
	d := dispatcher.New(stubStore{}, noGroups{}, nil, zap.NewNop())
	h := NewWebhookHandler("topsecret", f, d, zap.NewNop())

	body := []byte(`{"eventType":"git.pullrequest.created"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ado", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature", sign("topsecret", body))
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Data webhookAcceptedResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Status != "accepted" || resp.Data.EventType != "git.pullrequest.created" {
		t.Errorf("response = %+v", resp.Data)
	}
}

func TestWebhookReceiveRejectsMissingEventType(t *testing.T) {
	f := formatter.New(zap.NewNop(), nil)
	d := dispatcher.New(stubStore{}, noGroups{}, nil, zap.NewNop())
	h := NewWebhookHandler("", f, d, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/ado", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhookReceiveSkipsVerificationWhenSecretUnset(t *testing.T) {
	f := formatter.New(zap.NewNop(), nil)
	d := dispatcher.New(stubStore{}, noGroups{}, nil, zap.NewNop())
	h := NewWebhookHandler("", f, d, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/ado", strings.NewReader(`{"eventType":"build.complete"}`))
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
