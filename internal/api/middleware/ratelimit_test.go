package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/api/auth"
)

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("key"); !ok {
			t.Fatalf("request %d denied under limit", i+1)
		}
	}

	ok, retry := rl.Allow("key")
	if ok {
		t.Error("request over limit allowed")
	}
	if retry <= 0 || retry > time.Minute {
		t.Errorf("retry hint = %v, want within (0, window]", retry)
	}
}

func TestRateLimiter_PerKeyIsolation(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if ok, _ := rl.Allow("a"); !ok {
		t.Fatal("first request for a denied")
	}
	if ok, _ := rl.Allow("a"); ok {
		t.Error("second request for a allowed over limit")
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Error("request for b denied by a's limit")
	}
}

func TestRateLimiter_ZeroDisables(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)

	for i := 0; i < 100; i++ {
		if ok, _ := rl.Allow("key"); !ok {
			t.Fatal("zero limit must disable limiting")
		}
	}
}

func TestRateLimitByIP(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := RateLimitByIP(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/auth/token", nil)
	req.RemoteAddr = "10.0.0.1:4444"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}

	// A different client is not affected
	other := httptest.NewRequest("POST", "/api/v1/auth/token", nil)
	other.RemoteAddr = "10.0.0.2:4444"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimitByProject_KeyedByProjectNotIP(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := RateLimitByProject(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Same project from two addresses shares one budget
	req := httptest.NewRequest("GET", "/api/v1/spans", nil)
	req.RemoteAddr = "10.0.0.1:4444"
	req = principalRequest(req, "proj-1", auth.RoleProject)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec.Code, http.StatusOK)
	}

	req2 := httptest.NewRequest("GET", "/api/v1/spans", nil)
	req2.RemoteAddr = "10.0.0.2:4444"
	req2 = principalRequest(req2, "proj-1", auth.RoleProject)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req2)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("same project from new address status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr", "10.0.0.1:4444", "", "", "10.0.0.1"},
		{"x-forwarded-for single", "10.0.0.1:4444", "203.0.113.9", "", "203.0.113.9"},
		{"x-forwarded-for chain", "10.0.0.1:4444", "203.0.113.9, 10.0.0.7", "", "203.0.113.9"},
		{"x-real-ip", "10.0.0.1:4444", "", "203.0.113.9", "203.0.113.9"},
		{"forwarded-for wins", "10.0.0.1:4444", "203.0.113.9", "198.51.100.2", "203.0.113.9"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}

			if got := getClientIP(req); got != tc.want {
				t.Errorf("getClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}
