package sched

import (
	"context"
	"time"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// StatsSource is the part of the stats use case the worker reads.
type StatsSource interface {
	Totals(ctx context.Context) (*model.Stats, error)
}

// PoolStatsFunc reports connection pool usage; nil skips the gauge.
type PoolStatsFunc func() (total, idle, inUse int32)

// StatsWorker periodically refreshes the user and subscription gauges.
type StatsWorker struct {
	interval time.Duration
	stats    StatsSource
	pool     PoolStatsFunc
	log      *zerolog.Logger
}

func NewStatsWorker(interval time.Duration, stats StatsSource, pool PoolStatsFunc, logger *zerolog.Logger) *StatsWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "StatsWorker").Logger()
	return &StatsWorker{interval: interval, stats: stats, pool: pool, log: &l}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting stats worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stats worker")
			return ctx.Err()
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *StatsWorker) refresh(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st, err := w.stats.Totals(rctx)
	if err != nil {
		w.log.Error().Err(err).Msg("stats refresh failed")
		return
	}
	metrics.SetUsersTotal(st.Users)
	metrics.SetSubscriptionsTotal(st.SubscriptionsByStatus)
	if w.pool != nil {
		metrics.SetDBPoolStats(w.pool())
	}
	w.log.Debug().Int("users", st.Users).Int("active_24h", st.ActiveSince24h).Msg("stats refreshed")
}
