package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/utafrali/storefront/pkg/httputil"
)

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "http_rate_limited_total",
	Help: "Requests answered 429 by the per-client rate limiter.",
})

type bucket struct {
	*rate.Limiter
	seen time.Time
}

// buckets holds a token bucket per client and drops those idle for longer
// than idle.
type buckets struct {
	mu    sync.Mutex
	m     map[string]*bucket
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time
}

func newBuckets(rps float64, burst int, idle time.Duration) *buckets {
	return &buckets{
		m:     make(map[string]*bucket),
		limit: rate.Limit(rps),
		burst: burst,
		idle:  idle,
		now:   time.Now,
	}
}

func (b *buckets) allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	bk, ok := b.m[key]
	if !ok {
		bk = &bucket{Limiter: rate.NewLimiter(b.limit, b.burst)}
		b.m[key] = bk
	}
	bk.seen = now
	return bk.AllowN(now, 1)
}

func (b *buckets) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.idle)
	for key, bk := range b.m {
		if bk.seen.Before(cutoff) {
			delete(b.m, key)
		}
	}
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

func (b *buckets) sweepEvery(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.sweep()
		}
	}
}

// RateLimit answers 429 once a client spends its burst faster than rps refills
// it. Forwarding headers are honoured only from peers in trustedProxies.
// Idle clients are forgotten until ctx ends.
func RateLimit(ctx context.Context, rps float64, burst int, trustedProxies []string, l *slog.Logger) func(http.Handler) http.Handler {
	b := newBuckets(rps, burst, 3*time.Minute)
	go b.sweepEvery(ctx, time.Minute)
	return limitWith(b, parsePrefixes(trustedProxies, l), l)
}

func limitWith(b *buckets, trusted prefixes, l *slog.Logger) func(http.Handler) http.Handler {
	// Whole seconds until one token is back.
	retry := "1"
	if b.limit > 0 {
		retry = strconv.Itoa(int(math.Ceil(1 / float64(b.limit))))
	}
	limit := strconv.Itoa(b.burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trusted)
			w.Header().Set("X-RateLimit-Limit", limit)
			if b.allow(ip) {
				next.ServeHTTP(w, r)
				return
			}

			rateLimitedTotal.Inc()
			l.WarnContext(r.Context(), "client over rate limit",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", retry)
			httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "RATE_LIMITED", Message: "too many requests"},
			})
		})
	}
}

// clientIP is the TCP peer unless that peer is a trusted proxy. Then
// X-Forwarded-For is walked from the right and the first hop that is not
// itself trusted wins; X-Real-IP is used when the chain adds nothing.
func clientIP(r *http.Request, trusted prefixes) string {
	host, peer := peerAddr(r.RemoteAddr)
	if !trusted.contains(peer) {
		if peer.IsValid() {
			return peer.String()
		}
		return host
	}

	client := peer
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !trusted.contains(client) {
			return client.String()
		}
	}
	if client == peer {
		if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return xri.Unmap().String()
		}
	}
	return client.String()
}
