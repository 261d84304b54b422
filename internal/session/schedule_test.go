package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestRenewalDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sched := DefaultConfig()
	sched.ExpiryScheduling = true

	tests := []struct {
		name  string
		token string
		cfg   Config
		want  time.Duration
	}{
		{
			name:  "fixed interval when scheduling is off",
			token: signed(t, jwt.MapClaims{"exp": now.Add(3 * time.Minute).Unix()}),
			cfg:   DefaultConfig(),
			want:  10 * time.Minute,
		},
		{
			name:  "lead before expiry",
			token: signed(t, jwt.MapClaims{"exp": now.Add(5 * time.Minute).Unix()}),
			cfg:   sched,
			want:  4 * time.Minute,
		},
		{
			name:  "capped at the interval",
			token: signed(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}),
			cfg:   sched,
			want:  10 * time.Minute,
		},
		{
			name:  "expired token waits the minimum",
			token: signed(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()}),
			cfg:   sched,
			want:  5 * time.Second,
		},
		{
			name:  "no exp claim",
			token: signed(t, jwt.MapClaims{"sub": "42"}),
			cfg:   sched,
			want:  10 * time.Minute,
		},
		{
			name:  "opaque token",
			token: "not-a-jwt",
			cfg:   sched,
			want:  10 * time.Minute,
		},
		{
			name:  "empty token",
			token: "",
			cfg:   sched,
			want:  10 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenewalDelay(tt.token, now, tt.cfg))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "logged_out", LoggedOut.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "refreshing", Refreshing.String())
}

func TestState_TextRoundTrip(t *testing.T) {
	for _, s := range []State{LoggedOut, Active, Refreshing} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var bad State
	assert.Error(t, bad.UnmarshalText([]byte("sleeping")))
}
