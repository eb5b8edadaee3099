package metrics

import (
	"whatsapp-voice-subscription/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionTransitionsTotal,
		subscriptionsTotal,
	)
}

var (
	subscriptionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Reconciler steps by trigger and outcome.",
		},
		[]string{"trigger", "outcome"}, // outcome: 'applied', 'noop', 'stale', 'invalid', 'dropped', 'error'
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of users by subscription status.",
		},
		[]string{"status"},
	)
)

func IncSubscriptionTransition(trigger, outcome string) {
	subscriptionTransitionsTotal.WithLabelValues(norm(trigger), norm(outcome)).Inc()
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	for _, status := range model.AllSubscriptionStatuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
