package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inference calls by task and outcome (ok, quota, error)
	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parts_intake_inference_requests_total",
			Help: "Inference service calls by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parts_intake_inference_latency_seconds",
			Help:    "Inference call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
		[]string{"task"},
	)

	QuotaCooldowns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parts_intake_quota_cooldowns_total",
			Help: "Times the gateway entered a quota cooldown",
		},
	)

	// Current-window request count; reset on every cooldown
	InferenceWindow = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parts_intake_inference_window_requests",
			Help: "Successful inference calls since the last quota cooldown",
		},
	)

	// Emails by result: processed, skipped, failed
	EmailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parts_intake_emails_total",
			Help: "Emails handled by result",
		},
		[]string{"result"},
	)

	// Parts by terminal state
	PartsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parts_intake_parts_total",
			Help: "Part records by terminal state",
		},
		[]string{"state"},
	)

	DocumentsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parts_intake_documents_classified_total",
			Help: "Normalized pages by classified kind",
		},
		[]string{"kind"},
	)
)
