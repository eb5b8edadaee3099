package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		consumeTotal,
		quotaGrantedTotal,
		referralRedemptionsTotal,
		referralBonusGrantedTotal,
	)
}

var (
	consumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_consume_total",
			Help: "Metered actions by entitlement source ('subscription', 'bonus', 'quota', 'denied').",
		},
		[]string{"source"},
	)

	quotaGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_quota_granted_total",
			Help: "Quota grants and resets by reason.",
		},
		[]string{"reason"},
	)

	referralRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_redemptions_total",
			Help: "Referral code redemptions by result.",
		},
		[]string{"result"},
	)

	referralBonusGrantedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_bonus_granted_total",
			Help: "Bonus windows granted to referrers.",
		},
	)
)

func IncConsume(source string) {
	consumeTotal.WithLabelValues(norm(source)).Inc()
}

func IncQuotaGranted(reason string) {
	quotaGrantedTotal.WithLabelValues(norm(reason)).Inc()
}

func IncReferralRedemption(result string) {
	referralRedemptionsTotal.WithLabelValues(norm(result)).Inc()
}

func AddReferralBonus(n int) {
	referralBonusGrantedTotal.Add(float64(n))
}
