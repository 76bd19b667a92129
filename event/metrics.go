package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enforceCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_enforcements",
	Help: "Enforcement calls to the platform gateway, by action and outcome.",
}, []string{"action", "outcome"})

var quotaTrippedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_enforcement_quota_tripped",
	Help: "Enforcement attempts blocked by the daily quota breaker.",
}, []string{"action"})
