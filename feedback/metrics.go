package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var feedbackCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_feedback_events",
	Help: "Reviewer resolutions applied, by resolution.",
}, []string{"resolution"})

var trustFactorGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "vigil_analyzer_trust_factor",
	Help: "Current per-analyzer trust multiplier.",
}, []string{"analyzer"})
