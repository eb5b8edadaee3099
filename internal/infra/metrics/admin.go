package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(adminActionsTotal) }

var adminActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admin_actions_total",
		Help: "Privileged actions by action, channel and authorization result.",
	},
	[]string{"action", "channel", "status"}, // status: 'authorized', 'unauthorized', 'failed'
)

func IncAdminAction(action, channel, status string) {
	adminActionsTotal.WithLabelValues(norm(action), norm(channel), norm(status)).Inc()
}
