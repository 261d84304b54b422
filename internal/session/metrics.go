package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	resultSuccess   = "success"
	resultFailure   = "failure"
	resultDiscarded = "discarded"
)

var (
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_session_refresh_total",
			Help: "Access token renewals by result",
		},
		[]string{"result"},
	)

	stateGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_session_state",
			Help: "Current session state (0=logged_out, 1=active, 2=refreshing)",
		},
	)
)
