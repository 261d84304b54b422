package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/utafrali/storefront/pkg/logger"
)

func TestRateLimit_RejectsAfterBurst(t *testing.T) {
	b := newBuckets(0.5, 2, time.Minute)
	h := limitWith(b, nil, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	serve := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	var codes []int
	var last *httptest.ResponseRecorder
	for range 3 {
		last = serve("10.0.0.1:5555")
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, "2", last.Header().Get("Retry-After"))
	assert.Equal(t, "2", last.Header().Get("X-RateLimit-Limit"))
	assert.Contains(t, last.Body.String(), "RATE_LIMITED")

	assert.Equal(t, http.StatusOK, serve("10.0.0.2:5555").Code)
}

func TestRateLimit_Refills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBuckets(1, 1, time.Minute)
	b.now = func() time.Time { return now }

	assert.True(t, b.allow("1.1.1.1"))
	assert.False(t, b.allow("1.1.1.1"))
	now = now.Add(time.Second)
	assert.True(t, b.allow("1.1.1.1"))
}

func TestBuckets_SweepForgetsIdle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBuckets(1, 1, time.Minute)
	b.now = func() time.Time { return now }

	b.allow("1.1.1.1")
	now = now.Add(30 * time.Second)
	b.allow("2.2.2.2")
	now = now.Add(45 * time.Second)
	b.sweep()

	assert.Equal(t, 1, b.size())
}

func TestClientIP(t *testing.T) {
	trusted := parsePrefixes([]string{"10.0.0.0/8", "192.0.2.50"}, logger.Discard())

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"forwarded chain via proxy", map[string]string{"X-Forwarded-For": " 203.0.113.5, 10.0.0.7"}, "10.0.0.1:1", "203.0.113.5"},
		{"spoofed leftmost hop", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5"}, "10.0.0.1:1", "203.0.113.5"},
		{"untrusted peer ignores headers", map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "198.51.100.7"}, "192.0.2.9:80", "192.0.2.9"},
		{"real ip via proxy", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:1", "198.51.100.7"},
		{"single host proxy", map[string]string{"X-Forwarded-For": "203.0.113.8"}, "192.0.2.50:443", "203.0.113.8"},
		{"garbage forwarded", map[string]string{"X-Forwarded-For": "nope"}, "10.0.0.1:80", "10.0.0.1"},
		{"all hops trusted", map[string]string{"X-Forwarded-For": "10.1.1.1, 10.2.2.2"}, "10.0.0.1:1", "10.1.1.1"},
		{"no port", nil, "192.0.2.3", "192.0.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, trusted))
		})
	}
}

func TestRateLimit_RotatingForwardedForDoesNotEscape(t *testing.T) {
	b := newBuckets(0.5, 1, time.Minute)
	h := limitWith(b, nil, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	var codes []int
	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
		req.RemoteAddr = "203.0.113.20:5555"
		req.Header.Set("X-Forwarded-For", spoofed)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 429, 429}, codes)
}
