package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/identity"
	"github.com/hermesrelay/hermes/internal/models"
)

// fakeStore is an in-memory ClientStore for dispatcher tests.
type fakeStore struct {
	mu        sync.Mutex
	clients   []models.Client
	lastSeen  map[string]time.Time
	logged    []models.LogEntry
}

func newFakeStore(clients ...models.Client) *fakeStore {
	return &fakeStore{clients: clients, lastSeen: make(map[string]time.Time)}
}

func (f *fakeStore) ListClients(context.Context) ([]models.Client, error) {
	return f.clients, nil
}

func (f *fakeStore) UpdateLastSeen(_ context.Context, id string, when time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[id] = when
	return nil
}

func (f *fakeStore) AppendLog(_ context.Context, entry models.LogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logged = append(f.logged, entry)
}

func (f *fakeStore) entries() []models.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.LogEntry, len(f.logged))
	copy(out, f.logged)
	return out
}

// noGroups never resolves any group membership — enough for tests that do
// not exercise the group-match branch.
type noGroups struct{}

func (noGroups) Groups(context.Context, string) identity.Groups { return identity.Groups{} }

func TestDispatchDeliversToEligibleClientOnly(t *testing.T) {
	var received []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n models.Notification
		json.NewDecoder(r.Body).Decode(&n)
		mu.Lock()
		received = append(received, n.Heading)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	matching := models.Client{
		ID: "c1", CallbackURL: srv.URL, ADOUserID: "B", Active: true,
		Subscriptions: []models.EventType{models.EventPR},
	}
	nonSubscribed := models.Client{
		ID: "c2", CallbackURL: srv.URL, ADOUserID: "C", Active: true,
		Subscriptions: []models.EventType{models.EventWorkItem},
	}
	st := newFakeStore(matching, nonSubscribed)
	d := New(st, noGroups{}, nil, zap.NewNop())

	n := models.Notification{
		EventType: models.EventPR,
		Heading:   "New Pull Request",
		Mentions:  models.Mentions{UserIDs: []string{"B"}},
	}

	count, err := d.Dispatch(context.Background(), n)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if count != 1 {
		t.Errorf("delivered count = %d, want 1", count)
	}

	mu.Lock()
	gotReceived := len(received)
	mu.Unlock()
	if gotReceived != 1 {
		t.Errorf("server received %d requests, want 1", gotReceived)
	}

	entries := st.entries()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if !entries[0].Success || entries[0].ClientID != "c1" {
		t.Errorf("entry = %+v, want success delivery to c1", entries[0])
	}

	if _, ok := st.lastSeen["c1"]; !ok {
		t.Error("last_seen not updated for delivered client")
	}
}

func TestDispatchUnreachableClientLogsFailureWithoutAffectingOthers(t *testing.T) {
	var delivered int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	unreachable := models.Client{
		ID: "dead", CallbackURL: "http://127.0.0.1:1", Active: true,
		Subscriptions: []models.EventType{models.EventManual},
	}
	reachable := models.Client{
		ID: "alive", CallbackURL: srv.URL, Active: true,
		Subscriptions: []models.EventType{models.EventManual},
	}
	st := newFakeStore(unreachable, reachable)
	d := New(st, noGroups{}, nil, zap.NewNop())

	n := models.Notification{EventType: models.EventManual, Heading: "Broadcast"}

	count, err := d.Dispatch(context.Background(), n)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if count != 2 {
		t.Fatalf("eligible count = %d, want 2", count)
	}

	entries := st.entries()
	if len(entries) != 2 {
		t.Fatalf("log entries = %d, want 2", len(entries))
	}

	var sawFailure, sawSuccess bool
	for _, e := range entries {
		if e.ClientID == "dead" {
			if e.Success || e.Error == "" {
				t.Errorf("dead client entry = %+v, want success=false with error", e)
			}
			sawFailure = true
		}
		if e.ClientID == "alive" {
			if !e.Success {
				t.Errorf("alive client entry = %+v, want success=true", e)
			}
			sawSuccess = true
		}
	}
	if !sawFailure || !sawSuccess {
		t.Fatalf("expected one failure and one success entry, got %+v", entries)
	}
	_ = delivered
}

func TestDispatchNoEligibleClientsSkipsDelivery(t *testing.T) {
	st := newFakeStore(models.Client{
		ID: "c1", CallbackURL: "http://unused.invalid", Active: true,
		Subscriptions: []models.EventType{models.EventWorkItem},
	})
	d := New(st, noGroups{}, nil, zap.NewNop())

	count, err := d.Dispatch(context.Background(), models.Notification{EventType: models.EventPR})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if len(st.entries()) != 0 {
		t.Errorf("log entries = %d, want 0 (unsubscribed client never evaluated for delivery)", len(st.entries()))
	}
}
