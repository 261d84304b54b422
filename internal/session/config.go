package session

import "time"

// Config tunes the renewal loop.
type Config struct {
	// RefreshInterval is the fixed renewal period and the upper bound of any
	// computed delay.
	RefreshInterval time.Duration
	// ExpiryScheduling fires renewal RefreshLead before the access token's exp
	// claim instead of on the fixed interval.
	ExpiryScheduling bool
	RefreshLead      time.Duration
	// MinRefreshDelay keeps an already expired token from spinning the loop.
	MinRefreshDelay time.Duration
	// RefreshTimeout bounds a single renewal call.
	RefreshTimeout time.Duration
}

// DefaultConfig renews every ten minutes.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 10 * time.Minute,
		RefreshLead:     time.Minute,
		MinRefreshDelay: 5 * time.Second,
		RefreshTimeout:  15 * time.Second,
	}
}
