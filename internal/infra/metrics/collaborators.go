package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		collaboratorCalls,
		collaboratorLatency,
		transcriptionTokens,
	)
}

var (
	// collaborator: messaging|billing|transcription|ops
	// result: ok|timeout|error
	collaboratorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collaborator_calls_total",
			Help: "Outbound collaborator calls by operation and result.",
		},
		[]string{"collaborator", "op", "result"},
	)

	collaboratorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collaborator_call_duration_seconds",
			Help:    "Outbound collaborator call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"collaborator", "op"},
	)

	transcriptionTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_tokens_total",
			Help: "Tokens sent to the summarizer per provider and direction.",
		},
		[]string{"provider", "direction"}, // direction: 'in', 'out'
	)
)

func ObserveCollaborator(collaborator, op, result string, d time.Duration) {
	collaboratorCalls.WithLabelValues(norm(collaborator), norm(op), norm(result)).Inc()
	collaboratorLatency.WithLabelValues(norm(collaborator), norm(op)).Observe(d.Seconds())
}

func AddSummaryTokens(provider string, in, out int) {
	transcriptionTokens.WithLabelValues(norm(provider), "in").Add(float64(in))
	transcriptionTokens.WithLabelValues(norm(provider), "out").Add(float64(out))
}
