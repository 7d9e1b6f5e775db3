package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kasirsync/backend/internal/network"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t, network.StateConnected)
	res := api.do(t, http.MethodGet, "/healthz", "", nil)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected configured origin, got %q", got)
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t, network.StateConnected)
	res := api.do(t, http.MethodOptions, "/api/v1/checkout", "", nil)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t, network.StateConnected)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"items":[{"product_id":"%s","quantity":"1"}]}`, veryLong)

	res := api.do(t, http.MethodPost, "/api/v1/checkout", api.token(t, roleCashier), body)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", res.Code)
	}
}

func TestSyncRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t, network.StateDisconnected)
	token := api.token(t, roleCashier)

	for i := 0; i < 7; i++ {
		res := api.do(t, http.MethodPost, "/api/v1/sync", token, nil)
		if i < 6 && res.Code != http.StatusServiceUnavailable {
			t.Fatalf("attempt %d expected 503 before limit, got %d", i+1, res.Code)
		}
		if i == 6 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 7 expected 429, got %d", res.Code)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	api := newTestAPI(t, network.StateConnected)
	res := httptest.NewRecorder()

	api.writeServiceError(res, errors.New("pq: relation kasirsync_orders does not exist"))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "relation") {
		t.Fatalf("internal detail leaked: %s", res.Body.String())
	}
}

func TestKeyedLimiterSeparatesKeys(t *testing.T) {
	limiter := newKeyedLimiter(1, 0)

	if !limiter.Allow("terminal-1") {
		t.Fatalf("first call should pass")
	}
	if limiter.Allow("terminal-1") {
		t.Fatalf("second call for the same key should be limited")
	}
	if !limiter.Allow("terminal-2") {
		t.Fatalf("another key has its own budget")
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5050"
	if got := clientKey(req); got != "10.1.2.3" {
		t.Fatalf("expected bare address, got %q", got)
	}
}
