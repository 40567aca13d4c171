package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func lastLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestStructuredLoggerDefaultStatus(t *testing.T) {
	buf := captureLog(t)

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	entry := lastLogEntry(t, buf)
	if entry["method"] != "GET" || entry["path"] != "/api/v1/health" {
		t.Fatalf("log entry = %v", entry)
	}
	// JSON numbers decode as float64.
	if entry["status"] != float64(200) {
		t.Fatalf("status = %v, want 200", entry["status"])
	}
	if entry["bytes"] != float64(2) {
		t.Fatalf("bytes = %v, want 2", entry["bytes"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Fatal("duration_ms missing from log entry")
	}
	if _, ok := entry["principal"]; ok {
		t.Fatal("anonymous request must not log a principal")
	}
}

func TestStructuredLoggerExplicitStatus(t *testing.T) {
	buf := captureLog(t)

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/missing", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entry := lastLogEntry(t, buf)
	if entry["status"] != float64(404) {
		t.Fatalf("status = %v, want 404", entry["status"])
	}
}

func TestStructuredLoggerRecordsPrincipal(t *testing.T) {
	buf := captureLog(t)

	token, _, err := GenerateToken(testSecret, "ops", []string{
		"11111111-1111-1111-1111-111111111111",
		"22222222-2222-2222-2222-222222222222",
	})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	handler := StructuredLogger(RequireAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entry := lastLogEntry(t, buf)
	if entry["principal"] != "ops" {
		t.Fatalf("principal = %v, want ops", entry["principal"])
	}
	if entry["tenant_scope"] != float64(2) {
		t.Fatalf("tenant_scope = %v, want 2", entry["tenant_scope"])
	}
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	w := &statusRecorder{ResponseWriter: rr}

	w.WriteHeader(http.StatusCreated)
	w.WriteHeader(http.StatusInternalServerError)

	if w.status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.status)
	}
}
