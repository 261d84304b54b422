package middleware

import (
	"context"
	"net/http"

	"github.com/utafrali/storefront/pkg/httputil"
)

// SessionActiveFunc reports whether the edge currently holds a signed-in session.
type SessionActiveFunc func(ctx context.Context) bool

// RequireSession rejects requests with 401 unless a session is active. It is a
// cheap pre-check; the backend still validates the token on every call.
func RequireSession(active SessionActiveFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !active(r.Context()) {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNAUTHORIZED",
						Message: "You are not logged in",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
