package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_stream_events",
	Help: "Events received from the gateway stream, by type.",
}, []string{"type"})
