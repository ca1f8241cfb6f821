package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst requests rejected")
	}
	if rl.Allow("a") {
		t.Error("request over burst allowed")
	}
	if !rl.Allow("b") {
		t.Error("other client limited")
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("request after refill rejected")
	}

	now = now.Add(time.Hour)
	rl.Allow("c")
	if _, ok := rl.limiters["a"]; ok {
		t.Error("idle client not evicted")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := func(addr string) int {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	if got := req("10.0.0.1:1000"); got != http.StatusOK {
		t.Fatalf("first = %d", got)
	}
	// Same host, different port shares the limit.
	if got := req("10.0.0.1:2000"); got != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", got)
	}
	if got := req("10.0.0.2:1000"); got != http.StatusOK {
		t.Errorf("other host = %d", got)
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct{ addr, want string }{
		{"192.168.1.1:5000", "192.168.1.1"},
		{"[::1]:80", "::1"},
		{"noport", "noport"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tt.addr
		if got := clientKey(r); got != tt.want {
			t.Errorf("clientKey(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
