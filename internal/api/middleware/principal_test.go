package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func principalEcho(t *testing.T, got **Principal) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	token, _, err := GenerateToken(testSecret, "ops", []string{"11111111-1111-1111-1111-111111111111"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var got *Principal
	handler := RequireAuth(testSecret)(principalEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.Subject != "ops" || len(got.TenantUUIDs) != 1 {
		t.Fatalf("principal = %+v", got)
	}
	if got.System() {
		t.Error("tenant-scoped principal must not be system-level")
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	var got *Principal
	handler := RequireAuth(testSecret)(principalEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsWrongSecret(t *testing.T) {
	token, _, err := GenerateToken([]byte("another-secret-another-secret-xx"), "ops", nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var got *Principal
	handler := RequireAuth(testSecret)(principalEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestOptionalAuth(t *testing.T) {
	var got *Principal
	handler := OptionalAuth(testSecret)(principalEcho(t, &got))

	// No token: anonymous pass-through.
	req := httptest.NewRequest(http.MethodPost, "/kamailio/auth", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got != nil {
		t.Fatalf("principal = %+v, want nil for anonymous request", got)
	}

	// Valid token: principal attached.
	token, _, err := GenerateToken(testSecret, "proxy", []string{"11111111-1111-1111-1111-111111111111"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/kamailio/auth", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.Subject != "proxy" {
		t.Fatalf("principal = %+v", got)
	}

	// Garbage token: rejected, not silently anonymous.
	req = httptest.NewRequest(http.MethodPost, "/kamailio/auth", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
