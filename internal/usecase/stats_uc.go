package usecase

import (
	"context"
	"time"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	Totals(ctx context.Context) (*model.Stats, error)
	History(ctx context.Context, phone string) ([]*model.SubscriptionHistory, error)
	RecentAdminActions(ctx context.Context, limit int) ([]*model.AdminAction, error)
}

type statsUC struct {
	users   repository.UserRepository
	history repository.SubscriptionHistoryRepository
	audit   repository.AuditRepository
	now     func() time.Time

	log *zerolog.Logger
}

func NewStatsUseCase(users repository.UserRepository, history repository.SubscriptionHistoryRepository, audit repository.AuditRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{users: users, history: history, audit: audit, now: time.Now, log: logger}
}

// Totals counts users, users active in the last 24h, and subscriptions per status.
func (s *statsUC) Totals(ctx context.Context) (*model.Stats, error) {
	st, err := s.users.Stats(ctx, repository.NoTX, s.now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	if st.SubscriptionsByStatus == nil {
		st.SubscriptionsByStatus = map[model.SubscriptionStatus]int{}
	}
	for _, status := range model.AllSubscriptionStatuses {
		if _, ok := st.SubscriptionsByStatus[status]; !ok {
			st.SubscriptionsByStatus[status] = 0
		}
	}
	return st, nil
}

func (s *statsUC) History(ctx context.Context, phone string) ([]*model.SubscriptionHistory, error) {
	return s.history.ListByPhone(ctx, repository.NoTX, phone)
}

func (s *statsUC) RecentAdminActions(ctx context.Context, limit int) ([]*model.AdminAction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.audit.ListRecent(ctx, repository.NoTX, limit)
}
