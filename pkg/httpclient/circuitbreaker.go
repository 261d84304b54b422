package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the breaker in front of an upstream.
type BreakerConfig struct {
	Name string

	// HalfOpenProbes is how many requests may pass while half-open.
	HalfOpenProbes uint32
	// Window clears the closed-state counters; zero keeps them forever.
	Window time.Duration
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// FailureRatio trips the breaker once at least MinRequests were seen.
	FailureRatio float64
	MinRequests  uint32

	// OnStateChange, if set, runs after the breaker's own logging and metrics.
	OnStateChange func(from, to gobreaker.State)
}

// DefaultBreakerConfig trips after half of at least five calls fail and
// probes again after 30s.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:           name,
		HalfOpenProbes: 1,
		Window:         time.Minute,
		Cooldown:       30 * time.Second,
		FailureRatio:   0.5,
		MinRequests:    5,
	}
}

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "upstream_breaker_state",
		Help: "Breaker state per upstream (0=closed, 1=half-open, 2=open).",
	}, []string{"upstream"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_breaker_rejected_total",
		Help: "Requests refused without contacting the upstream.",
	}, []string{"upstream"})
)

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// ErrCircuitOpen is returned while the breaker refuses requests.
var ErrCircuitOpen = gobreaker.ErrOpenState

// ServerError is a 5xx answer. The breaker consumes the body and counts it as
// a failure; 4xx answers pass through untouched and never trip it.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("upstream answered %d: %s", e.Status, e.Body)
}

// Breaker is a Doer that stops calling an upstream that keeps failing.
type Breaker struct {
	next Doer
	name string
	cb   *gobreaker.CircuitBreaker[*http.Response]
}

// NewBreaker wraps next.
func NewBreaker(next Doer, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	ratio, minReq := cfg.FailureRatio, cfg.MinRequests
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minReq &&
				float64(c.TotalFailures)/float64(c.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upstream breaker changed state",
				slog.String("upstream", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateGauge(to))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(from, to)
			}
		},
	}
	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &Breaker{
		next: next,
		name: cfg.Name,
		cb:   gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

func (b *Breaker) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := b.cb.Execute(func() (*http.Response, error) {
		resp, err := b.next.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &ServerError{Status: resp.StatusCode, Body: string(body)}
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		breakerRejected.WithLabelValues(b.name).Inc()
	}
	return resp, err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
