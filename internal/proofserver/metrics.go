package proofserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "proof_server",
			Name:      "requests_total",
			Help:      "Total number of proof server requests",
		},
		// endpoint: check/prove/prove-tx, status: success/rejected/unavailable/error
		[]string{"endpoint", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "proof_server",
			Name:      "request_duration_seconds",
			Help:      "Duration of proof server jobs, including time spent waiting for a slot",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"endpoint"},
	)

	jobsProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "proof_server",
			Name:      "jobs_processing",
			Help:      "Number of jobs currently holding a proving slot",
		},
	)

	jobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "proof_server",
			Name:      "jobs_pending",
			Help:      "Number of jobs waiting for a proving slot",
		},
	)
)
