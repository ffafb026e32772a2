package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	const hsts = "max-age=31536000; includeSubDomains"

	tests := []struct {
		name         string
		requireHTTPS bool
		target       string
		tls          bool
		wantHSTS     string
	}{
		{name: "event listing in development", target: "/api/v1/events"},
		{name: "ticket image in development", target: "/api/v1/attendees/r1/ticket.png"},
		{name: "readiness check behind TLS", requireHTTPS: true, target: "https://attend.example.org/readyz", tls: true, wantHSTS: hsts},
		{name: "registration behind TLS", requireHTTPS: true, target: "https://attend.example.org/api/v1/events/e1/attendees", tls: true, wantHSTS: hsts},
		{name: "plain HTTP never gets HSTS", requireHTTPS: true, target: "http://attend.example.org/api/v1/events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := SecurityHeaders(tt.requireHTTPS)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			h := rec.Header()
			assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
			assert.Equal(t, "strict-origin-when-cross-origin", h.Get("Referrer-Policy"))
			assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", h.Get("Content-Security-Policy"))
			assert.Equal(t, "no-store", h.Get("Cache-Control"))
			assert.Equal(t, tt.wantHSTS, h.Get("Strict-Transport-Security"))
		})
	}
}

func TestSecurityHeadersLetHandlerOverrideCaching(t *testing.T) {
	handler := SecurityHeaders(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attendees/r1/ticket.png", nil))

	assert.Equal(t, "private, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
