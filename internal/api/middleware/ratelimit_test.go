package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/config"
)

func newTestLimiter(t testing.TB, cfg config.RateLimitConfig) http.Handler {
	rl := NewRateLimiter(cfg, "test")
	t.Cleanup(rl.Stop)
	return rl.Handler(okHandler())
}

func loginRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.RemoteAddr = remoteAddr
	return req.WithContext(WithRateLimitTier(req.Context(), TierLogin))
}

func TestLoginRateLimit_AllowsInitialBurst(t *testing.T) {
	handler := newTestLimiter(t, config.RateLimitConfig{LoginPerMinute: 5})

	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, loginRequest("192.168.1.100:12345"))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, res.Code)
		}
	}
}

func TestLoginRateLimit_BlocksAfterBurst(t *testing.T) {
	handler := newTestLimiter(t, config.RateLimitConfig{LoginPerMinute: 5})
	clientIP := "192.168.1.101:54321"

	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), loginRequest(clientIP))
	}

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, loginRequest(clientIP))

	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", res.Code)
	}
	// One token every 12 seconds at 5 per minute.
	if got := res.Header().Get("Retry-After"); got != "12" {
		t.Errorf("expected Retry-After 12, got %s", got)
	}
	if got := res.Header().Get("Content-Type"); got != "application/problem+json" {
		t.Errorf("expected problem JSON, got %s", got)
	}
}

func TestLoginRateLimit_PerIPIsolation(t *testing.T) {
	handler := newTestLimiter(t, config.RateLimitConfig{LoginPerMinute: 1})

	handler.ServeHTTP(httptest.NewRecorder(), loginRequest("10.0.0.1:1000"))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, loginRequest("10.0.0.2:1000"))
	if res.Code != http.StatusOK {
		t.Errorf("a different client should have its own bucket, got %d", res.Code)
	}
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	handler := newTestLimiter(t, config.RateLimitConfig{LoginPerMinute: 1})

	for _, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
		req := loginRequest("198.51.100.7:4000")
		req.Header.Set("X-Forwarded-For", forwarded)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if forwarded == "203.0.113.2" && res.Code != http.StatusTooManyRequests {
			t.Errorf("spoofed X-Forwarded-For must not yield a fresh bucket, got %d", res.Code)
		}
	}
}

func TestRateLimit_DisabledWhenZero(t *testing.T) {
	handler := newTestLimiter(t, config.RateLimitConfig{})

	for i := 0; i < 50; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, loginRequest("192.168.1.104:1"))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with limits disabled, got %d", i+1, res.Code)
		}
	}
}

func TestRateLimit_HealthChecksExempt(t *testing.T) {
	handler := newTestLimiter(t, config.RateLimitConfig{PublicPerMinute: 1})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.RemoteAddr = "192.168.1.105:1"
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != http.StatusOK {
				t.Fatalf("%s request %d: expected 200, got %d", path, i+1, res.Code)
			}
		}
	}
}

func TestRateLimit_AuthenticatedCallersUseAuthTier(t *testing.T) {
	handler := newTestLimiter(t, config.RateLimitConfig{PublicPerMinute: 1, AuthPerMinute: 3})

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
		req.RemoteAddr = "192.168.1.106:1"
		if userID != "" {
			req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: userID, Role: auth.RoleAttendee}))
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		return res.Code
	}

	if code := send(""); code != http.StatusOK {
		t.Fatalf("first anonymous request: expected 200, got %d", code)
	}
	if code := send(""); code != http.StatusTooManyRequests {
		t.Fatalf("second anonymous request: expected 429, got %d", code)
	}
	for i := 0; i < 3; i++ {
		if code := send("u1"); code != http.StatusOK {
			t.Fatalf("authenticated request %d: expected 200, got %d", i+1, code)
		}
	}
	if code := send("u1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected the auth tier to be exhausted, got %d", code)
	}
	if code := send("u2"); code != http.StatusOK {
		t.Fatalf("another user has a separate bucket, got %d", code)
	}
}

func TestClientKey(t *testing.T) {
	trusted := parseCIDRs([]string{"10.0.0.0/8", "not-a-cidr"})
	if len(trusted) != 1 {
		t.Fatalf("expected invalid CIDRs to be skipped, got %d", len(trusted))
	}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "untrusted peer", remoteAddr: "192.168.1.1:1234", headers: map[string]string{"X-Forwarded-For": "203.0.113.9"}, want: "192.168.1.1"},
		{name: "trusted forwarded for", remoteAddr: "10.1.2.3:1234", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.1.2.3"}, want: "203.0.113.9"},
		{name: "trusted real ip", remoteAddr: "10.1.2.3:1234", headers: map[string]string{"X-Real-IP": "203.0.113.10"}, want: "203.0.113.10"},
		{name: "trusted without headers", remoteAddr: "10.1.2.3:1234", want: "10.1.2.3"},
		{name: "no port", remoteAddr: "192.168.1.2", want: "192.168.1.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientKey(req, trusted); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestWithRateLimitTierHandler_SetsContextValue(t *testing.T) {
	handler := WithRateLimitTierHandler(TierLogin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier, ok := r.Context().Value(rateLimitTierKey).(RateLimitTier)
		if !ok {
			t.Fatal("tier not set in context")
		}
		if tier != TierLogin {
			t.Errorf("expected TierLogin, got %s", tier)
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestLimiterStoreCleanup(t *testing.T) {
	store := newLimiterStore(config.RateLimitConfig{PublicPerMinute: 10})
	defer store.stop()

	store.limiter(TierPublic, "a")
	store.limiter(TierPublic, "b")
	if store.limiter(TierLogin, "a") != nil {
		t.Error("a zero limit should be unlimited")
	}
	if store.size() != 2 {
		t.Fatalf("expected 2 limiters, got %d", store.size())
	}

	store.cleanup(time.Now().Add(limiterTTL + time.Second))
	if store.size() != 0 {
		t.Errorf("expected idle limiters to be evicted, got %d", store.size())
	}
}

func BenchmarkRateLimit_Allow(b *testing.B) {
	handler := newTestLimiter(b, config.RateLimitConfig{PublicPerMinute: 1_000_000})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.RemoteAddr = "192.168.1.100:12345"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
