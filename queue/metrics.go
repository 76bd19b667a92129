package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vigil_queue_depth",
	Help: "Items currently pending or claimed.",
})

var claimCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_queue_claims",
	Help: "Claim attempts by outcome.",
}, []string{"outcome"})

var resolveCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_queue_resolutions",
	Help: "Resolutions by kind.",
}, []string{"resolution"})

var expireCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vigil_queue_expired",
	Help: "Items expired unreviewed.",
})
