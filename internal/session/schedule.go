package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RenewalDelay is how long the loop waits before the next renewal attempt.
//
// Without expiry scheduling it is always the fixed interval. With it, the
// token's exp claim is read without verifying the signature (the backend is
// the only party that verifies) and the delay is exp - lead - now, clamped to
// [MinRefreshDelay, RefreshInterval]. Tokens that are not JWTs or carry no exp
// fall back to the interval.
func RenewalDelay(token string, now time.Time, cfg Config) time.Duration {
	if !cfg.ExpiryScheduling || token == "" {
		return cfg.RefreshInterval
	}
	exp, ok := tokenExpiry(token)
	if !ok {
		return cfg.RefreshInterval
	}

	d := exp.Sub(now) - cfg.RefreshLead
	if d < cfg.MinRefreshDelay {
		d = cfg.MinRefreshDelay
	}
	if d > cfg.RefreshInterval {
		d = cfg.RefreshInterval
	}
	return d
}

func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
