package adminauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMintAndValidate(t *testing.T) {
	mgr := New("super-secret", "hermes-server")

	token, err := mgr.Mint("admin", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := mgr.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q, want admin", claims.Role)
	}
}

func TestValidateExpired(t *testing.T) {
	mgr := New("super-secret", "hermes-server")

	token, err := mgr.Mint("admin", -time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := mgr.Validate(token); err != ErrTokenExpired {
		t.Errorf("Validate() err = %v, want ErrTokenExpired", err)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	mgr := New("secret-a", "hermes-server")
	other := New("secret-b", "hermes-server")

	token, err := mgr.Mint("admin", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := other.Validate(token); err != ErrTokenInvalid {
		t.Errorf("Validate() err = %v, want ErrTokenInvalid", err)
	}
}

func TestRequireAdminNoop(t *testing.T) {
	handler := RequireAdmin(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (no-op when unconfigured)", rec.Code)
	}
}

func TestRequireAdminRejectsMissingToken(t *testing.T) {
	mgr := New("super-secret", "hermes-server")
	handler := RequireAdmin(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAdminAcceptsValidToken(t *testing.T) {
	mgr := New("super-secret", "hermes-server")
	token, err := mgr.Mint("admin", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	handler := RequireAdmin(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || claims.Role != "admin" {
			t.Errorf("claims not propagated to context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
