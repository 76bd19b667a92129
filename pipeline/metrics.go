package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vigil_pipeline_duration_sec",
	Help:    "End-to-end processing time per message.",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 10, 12),
})

var pipelinePanicCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vigil_pipeline_panics",
	Help: "Panics recovered at the pipeline boundary.",
})

var duplicateCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vigil_pipeline_duplicates",
	Help: "Resubmissions answered from the decision store.",
})

var repUnavailableCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vigil_pipeline_reputation_unavailable",
	Help: "Records failed closed because the reputation store was down.",
})

var failClosedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vigil_pipeline_fail_closed",
	Help: "Records routed to review due to a dependency outage.",
})

var workerBacklogGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vigil_pipeline_backlog",
	Help: "Messages waiting for a pipeline worker.",
})
