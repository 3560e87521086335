package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

type cacheCall struct {
	kind string
	hit  bool
}

type recordingObserver struct {
	calls []cacheCall
}

func (r *recordingObserver) ObserveCache(kind string, hit bool) {
	r.calls = append(r.calls, cacheCall{kind, hit})
}

func TestAvatarFetchAndCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if !strings.Contains(r.URL.Path, "/_apis/graph/avatars/user-a") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	id := New(Config{OrganizationURL: srv.URL, PAT: "secret-pat"}, zaptest.NewLogger(t), obs)

	first := id.Avatar(context.Background(), "user-a")
	if !strings.HasPrefix(first, "data:image/png;base64,") {
		t.Fatalf("unexpected avatar: %q", first)
	}

	second := id.Avatar(context.Background(), "user-a")
	if second != first {
		t.Fatalf("expected cached avatar to match, got %q vs %q", second, first)
	}
	if hits != 1 {
		t.Fatalf("expected exactly one upstream request, got %d", hits)
	}
	if obs.calls[0].hit || !obs.calls[1].hit {
		t.Fatalf("expected miss then hit, got %+v", obs.calls)
	}
}

func TestAvatarCachesNegativeResult(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	id := New(Config{OrganizationURL: srv.URL, PAT: "secret-pat"}, zaptest.NewLogger(t), nil)

	if got := id.Avatar(context.Background(), "missing"); got != "" {
		t.Fatalf("expected empty avatar, got %q", got)
	}
	if got := id.Avatar(context.Background(), "missing"); got != "" {
		t.Fatalf("expected empty avatar on cache hit, got %q", got)
	}
	if hits != 1 {
		t.Fatalf("expected the negative result to be cached, got %d upstream hits", hits)
	}
}

func TestAvatarWithoutPATNeverCallsUpstream(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id := New(Config{OrganizationURL: srv.URL}, zaptest.NewLogger(t), nil)
	if got := id.Avatar(context.Background(), "user-a"); got != "" {
		t.Fatalf("expected empty avatar without PAT, got %q", got)
	}
	if called {
		t.Fatal("expected no upstream request without a PAT configured")
	}
}

func TestGroupsTwoStepLookupAndFallbackName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/_apis/identities/user-a"):
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"memberOf": ["group-1", "group-2"]}`))
		case strings.HasSuffix(r.URL.Path, "/_apis/identities"):
			ids := r.URL.Query().Get("identityIds")
			if ids != "group-1,group-2" {
				t.Fatalf("unexpected batch ids: %q", ids)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"value": [
				{"providerDisplayName": "Backend Team"},
				{"customDisplayName": "Frontend Team"}
			]}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	id := New(Config{OrganizationURL: srv.URL, PAT: "secret-pat"}, zaptest.NewLogger(t), nil)
	groups := id.Groups(context.Background(), "user-a")

	if len(groups.IDs) != 2 {
		t.Fatalf("expected 2 group ids, got %v", groups.IDs)
	}
	want := map[string]bool{"Backend Team": true, "Frontend Team": true}
	for _, n := range groups.Names {
		if !want[n] {
			t.Fatalf("unexpected group name %q", n)
		}
		delete(want, n)
	}
	if len(want) != 0 {
		t.Fatalf("missing expected group names: %v", want)
	}
}

func TestGroupsNoMembershipsReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"memberOf": []}`))
	}))
	defer srv.Close()

	id := New(Config{OrganizationURL: srv.URL, PAT: "secret-pat"}, zaptest.NewLogger(t), nil)
	groups := id.Groups(context.Background(), "user-a")
	if len(groups.IDs) != 0 || len(groups.Names) != 0 {
		t.Fatalf("expected empty groups, got %+v", groups)
	}
}

func TestGroupsUpstreamFailureYieldsEmptyNeverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	id := New(Config{OrganizationURL: srv.URL, PAT: "secret-pat"}, zaptest.NewLogger(t), nil)
	groups := id.Groups(context.Background(), "user-a")
	if len(groups.IDs) != 0 {
		t.Fatalf("expected no groups on upstream failure, got %+v", groups)
	}
}
