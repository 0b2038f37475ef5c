package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiterAllow(t *testing.T) {
	l := NewIPRateLimiter(2, 0)
	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third request should be blocked")
	}
}

func TestIPRateLimiterWindowReset(t *testing.T) {
	l := NewIPRateLimiter(1, 10*time.Millisecond)
	if !l.Allow("k") {
		t.Fatalf("first request should pass")
	}
	if l.Allow("k") {
		t.Fatalf("second request inside the window should be blocked")
	}
	time.Sleep(15 * time.Millisecond)
	if !l.Allow("k") {
		t.Fatalf("request after the window should pass again")
	}
}

func TestIPRateLimiterKeysAreIndependent(t *testing.T) {
	l := NewIPRateLimiter(1, time.Minute)
	if !l.Allow("a") {
		t.Fatalf("key a should pass")
	}
	if !l.Allow("b") {
		t.Fatalf("key b must not share key a's bucket")
	}
}

func TestCSRFMiddlewareEnforced(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/submit", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	req.Header.Set(csrfHeaderName, "abc")
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCSRFMiddlewareRejectsMissingToken(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/submit", nil)
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCSRFMiddlewareRejectsMismatchedToken(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/submit", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	req.Header.Set(csrfHeaderName, "xyz")
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCSRFMiddlewareSkipsSafeMethods(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tests", nil)
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for GET without token, got %d", w.Code)
	}
}

func TestRouterHealthz(t *testing.T) {
	router := NewRouter(Config{DefaultTestMinutes: 30, SessionTTLHours: 12, AuthRateLimitPerMin: 60}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != `{"ok":true}`+"\n" && got != `{"ok":true}` {
		t.Fatalf("unexpected healthz body: %q", got)
	}
}
