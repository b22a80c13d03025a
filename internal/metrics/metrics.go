package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of chat completion requests processed",
		},
		[]string{"model", "mode", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model", "mode"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tokens_total",
			Help: "Total number of tokens reported by the upstream",
		},
		[]string{"model", "type"},
	)

	CredentialRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_credential_refreshes_total",
			Help: "Credential refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	UpstreamRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_upstream_retries_total",
			Help: "Upstream calls retried after a refreshed credential",
		},
	)

	StreamChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_stream_chunks_total",
			Help: "Stream events forwarded or folded",
		},
	)

	MalformedChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_malformed_chunks_total",
			Help: "Stream events skipped because their payload failed to parse",
		},
	)

	AdmissionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_admission_rejections_total",
			Help: "Requests rejected before reaching the relay",
		},
		[]string{"reason"},
	)
)
