package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.allow("1.2.3.4") {
			t.Fatalf("Request %d should be allowed", i+1)
		}
	}
	if limiter.allow("1.2.3.4") {
		t.Error("Request over the limit should be denied")
	}

	// A different IP has its own bucket.
	if !limiter.allow("5.6.7.8") {
		t.Error("Different IP should be allowed")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(1, window)

	if !limiter.allow("1.2.3.4") {
		t.Fatal("First request should be allowed")
	}
	if limiter.allow("1.2.3.4") {
		t.Fatal("Second request should be denied")
	}

	time.Sleep(window + 10*time.Millisecond)

	if !limiter.allow("1.2.3.4") {
		t.Error("Request after window reset should be allowed")
	}
}

func TestRateLimiter_CleanupBoundsMapSize(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(10, window)

	for i := 0; i < 300; i++ {
		limiter.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}

	time.Sleep(window + 10*time.Millisecond)

	// Enough requests to cross the cleanup threshold after expiry.
	for i := 0; i < cleanupEvery; i++ {
		limiter.allow("10.1.0.1")
	}

	limiter.mu.Lock()
	size := len(limiter.buckets)
	limiter.mu.Unlock()
	if size > 10 {
		t.Errorf("Expected expired buckets to be cleaned up, map size %d", size)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
	req.RemoteAddr = "1.2.3.4:5678"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "1.2.3.4:5678"
	if got := ClientIP(req); got != "1.2.3.4:5678" {
		t.Errorf("Expected RemoteAddr fallback, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "9.8.7.6, 5.4.3.2")
	if got := ClientIP(req); got != "9.8.7.6" {
		t.Errorf("Expected first X-Forwarded-For entry, got %s", got)
	}
}
