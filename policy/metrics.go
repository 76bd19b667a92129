package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_policy_decisions",
	Help: "Decisions produced, by action.",
}, []string{"action"})

var ruleSkippedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_policy_rules_skipped",
	Help: "Malformed rules skipped during evaluation.",
}, []string{"rule"})
