package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookDuration,
		usersRegisteredTotal,
		usersTotal,
		commandsReceivedTotal,
		rateLimitedTotal,
	)
}

var (
	// source: whatsapp|paypal|redirect
	// result: processed|ignored|malformed|duplicate|rejected|error
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook deliveries by source, event kind and result.",
		},
		[]string{"source", "kind", "result"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Time to acknowledge a webhook delivery.",
			Buckets: []float64{0.005, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"source"},
	)

	usersRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "Total number of new users registered.",
		},
	)

	usersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "users_total",
			Help: "Current number of known users.",
		},
	)

	commandsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_received_total",
			Help: "Counts incoming messages by dispatched command.",
		},
		[]string{"command"},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_triggered_total",
			Help: "Total number of inbound messages dropped by the per-user rate limit.",
		},
	)
)

func IncWebhookEvent(source, kind, result string) {
	webhookEventsTotal.WithLabelValues(norm(source), norm(kind), norm(result)).Inc()
}

func ObserveWebhook(source string, seconds float64) {
	webhookDuration.WithLabelValues(norm(source)).Observe(seconds)
}

func IncUsersRegistered() { usersRegisteredTotal.Inc() }

func SetUsersTotal(n int) { usersTotal.Set(float64(n)) }

func IncCommand(command string) {
	commandsReceivedTotal.WithLabelValues(norm(command)).Inc()
}

func IncRateLimited() { rateLimitedTotal.Inc() }
