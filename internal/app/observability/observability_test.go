package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/attempts/123/result")
	want := "/api/v1/attempts/{id}/result"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}

	got = normalizedPath("/api/v1/sessions/0b9fa43a-8a3e-4f5e-9d17-6b2c1d9e4a7f/next")
	want = "/api/v1/sessions/{sid}/next"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestLooksLikeUUID(t *testing.T) {
	if !looksLikeUUID("0b9fa43a-8a3e-4f5e-9d17-6b2c1d9e4a7f") {
		t.Fatalf("valid uuid rejected")
	}
	if looksLikeUUID("not-a-uuid") {
		t.Fatalf("short string accepted")
	}
	if looksLikeUUID("0b9fa43az8a3e-4f5e-9d17-6b2c1d9e4a7f") {
		t.Fatalf("string without dash positions accepted")
	}
}

func TestExtractAttemptID(t *testing.T) {
	if id := extractAttemptID("/api/v1/attempts/456/result"); id != 456 {
		t.Fatalf("expected 456, got %d", id)
	}
	if id := extractAttemptID("/api/v1/tests/1"); id != 0 {
		t.Fatalf("expected 0 for non-attempt path, got %d", id)
	}
}

func TestCollectorCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tests/7", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	c.mu.RLock()
	s := c.requestStats[key{Method: http.MethodGet, Path: "/api/v1/tests/{id}", Status: http.StatusNoContent}]
	c.mu.RUnlock()

	if s.Count != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", s.Count)
	}
}

func TestMetricsHandlerOutput(t *testing.T) {
	c := NewCollector(nil)
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tests", nil))

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metricsz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "examprep_uptime_seconds") {
		t.Fatalf("missing uptime metric:\n%s", body)
	}
	if !strings.Contains(body, `examprep_http_requests_total{method="GET",path="/api/v1/tests",status="200"} 1`) {
		t.Fatalf("missing request counter:\n%s", body)
	}
	if strings.Contains(body, "examprep_db_open_connections") {
		t.Fatalf("db metrics should be absent without a pool:\n%s", body)
	}
}
