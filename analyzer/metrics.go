package analyzer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var analyzerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "vigil_analyzer_duration_sec",
	Help: "Duration of individual analyzer calls",
}, []string{"analyzer"})

var analyzerFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_analyzer_failures",
	Help: "Number of analyzer calls degraded to zero-confidence results",
}, []string{"analyzer", "kind"})

var analyzerBudgetExhausted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vigil_analyzer_budget_exhausted",
	Help: "Number of records analyzed partially because the pipeline budget expired",
})
