package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Checker probes one dependency.
type Checker func(ctx context.Context) error

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type dependency struct {
	name     string
	check    Checker
	critical bool
}

// Handler serves liveness and readiness. Readiness fails (503) only when a
// critical dependency is down; a non-critical one merely degrades it, so the
// storefront stays in rotation and keeps serving the cart while the backend
// is away.
type Handler struct {
	mu      sync.RWMutex
	deps    map[string]dependency
	timeout time.Duration
	now     func() time.Time
}

func NewHandler() *Handler {
	return &Handler{
		deps:    make(map[string]dependency),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// Register is RegisterCritical.
func (h *Handler) Register(name string, c Checker) { h.add(name, c, true) }

func (h *Handler) RegisterCritical(name string, c Checker) { h.add(name, c, true) }

func (h *Handler) RegisterNonCritical(name string, c Checker) { h.add(name, c, false) }

func (h *Handler) add(name string, c Checker, critical bool) {
	h.mu.Lock()
	h.deps[name] = dependency{name: name, check: c, critical: critical}
	h.mu.Unlock()
}

func (h *Handler) snapshot() []dependency {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]dependency, 0, len(h.deps))
	for _, d := range h.deps {
		out = append(out, d)
	}
	return out
}

// LivenessHandler answers 200 while the process can serve HTTP at all.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: h.now().UTC()})
	}
}

// ReadinessHandler probes every dependency in parallel under one timeout.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		deps := h.snapshot()
		results := make([]CheckResult, len(deps))
		var g errgroup.Group
		for i, d := range deps {
			g.Go(func() error {
				start := h.now()
				err := d.check(ctx)
				res := CheckResult{
					Status:    StatusUp,
					Critical:  d.critical,
					LatencyMS: h.now().Sub(start).Milliseconds(),
				}
				if err != nil {
					res.Status, res.Error = StatusDown, err.Error()
				}
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()

		overall := StatusUp
		checks := make(map[string]CheckResult, len(deps))
		for i, d := range deps {
			res := results[i]
			checks[d.name] = res
			switch {
			case res.Status != StatusDown:
			case res.Critical:
				overall = StatusDown
			case overall == StatusUp:
				overall = StatusDegraded
			}
		}

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{Status: overall, Timestamp: h.now().UTC(), Checks: checks})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
