package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/utafrali/storefront/pkg/httputil"
)

// RegisterPprof mounts chi's profiler (pprof and expvar) under /debug for
// peers in allowedCIDRs only.
func RegisterPprof(r chi.Router, allowedCIDRs []string, l *slog.Logger) {
	r.With(IPAllowlist(allowedCIDRs, l)).Mount("/debug", chimw.Profiler())
}

// IPAllowlist admits a request only when the TCP peer falls in one of cidrs.
// X-Forwarded-For is not consulted. Unparsable CIDRs are logged and dropped.
func IPAllowlist(cidrs []string, l *slog.Logger) func(http.Handler) http.Handler {
	allowed := parsePrefixes(cidrs, l)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, addr := peerAddr(r.RemoteAddr)
			if allowed.contains(addr) {
				next.ServeHTTP(w, r)
				return
			}
			l.WarnContext(r.Context(), "peer not in allowlist",
				slog.String("ip", host),
				slog.String("path", r.URL.Path),
			)
			httputil.WriteJSON(w, http.StatusForbidden, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "FORBIDDEN", Message: "access restricted by IP allowlist"},
			})
		})
	}
}
