package usecase

import (
	"context"
	"errors"
	"time"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	"whatsapp-voice-subscription/internal/infra/logging"
	"whatsapp-voice-subscription/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase is the ledger consulted before every metered action.
type EntitlementUseCase interface {
	IsEntitled(ctx context.Context, phone string) (bool, error)
	Consume(ctx context.Context, phone string) (model.ConsumeResult, error)
	Grant(ctx context.Context, phone string, count int, reason string) (int, error)
	ResetAll(ctx context.Context, quota int) (int64, error)
}

type entitlementUC struct {
	users  repository.UserRepository
	tm     repository.TransactionManager
	locker repository.UserLocker
	now    func() time.Time
	log    *zerolog.Logger
}

func NewEntitlementUseCase(users repository.UserRepository, tm repository.TransactionManager, locker repository.UserLocker, logger *zerolog.Logger) *entitlementUC {
	l := logger.With().Str("component", "EntitlementUC").Logger()
	return &entitlementUC{users: users, tm: tm, locker: locker, now: time.Now, log: &l}
}

// IsEntitled is a plain read; the authoritative check happens again in Consume.
func (e *entitlementUC) IsEntitled(ctx context.Context, phone string) (bool, error) {
	defer logging.TraceDuration(e.log, "EntitlementUC.IsEntitled")()
	u, err := e.users.FindByPhone(ctx, repository.NoTX, phone)
	if err != nil {
		return false, err
	}
	return u.IsEntitled(e.now()), nil
}

// Consume charges one unit. Both counters are written by one Save inside the
// per-user lock, so concurrent calls can never take the quota below zero.
func (e *entitlementUC) Consume(ctx context.Context, phone string) (model.ConsumeResult, error) {
	defer logging.TraceDuration(e.log, "EntitlementUC.Consume")()

	var res model.ConsumeResult
	err := withUserLock(ctx, e.locker, phone, func(ctx context.Context) error {
		return e.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			u, err := e.users.FindByPhone(ctx, tx, phone)
			if err != nil {
				return err
			}
			next, r, err := u.Consume(e.now())
			res = r
			if err != nil {
				return err
			}
			return e.users.Save(ctx, tx, &next)
		})
	})
	switch {
	case errors.Is(err, domain.ErrNoQuota):
		metrics.IncConsume("denied")
	case err == nil:
		metrics.IncConsume(string(res.Source))
	}
	return res, err
}

// Grant adds count (possibly negative) to the free quota, clamped at zero.
func (e *entitlementUC) Grant(ctx context.Context, phone string, count int, reason string) (int, error) {
	defer logging.TraceDuration(e.log, "EntitlementUC.Grant")()

	var quota int
	err := withUserLock(ctx, e.locker, phone, func(ctx context.Context) error {
		return e.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			u, err := e.users.FindByPhone(ctx, tx, phone)
			if err != nil {
				return err
			}
			next := u.Grant(count)
			if err := e.users.Save(ctx, tx, &next); err != nil {
				return err
			}
			quota = next.FreeQuota
			return nil
		})
	})
	if err == nil {
		metrics.IncQuotaGranted(reason)
		e.log.Info().Int("count", count).Int("quota", quota).Str("reason", reason).Msg("quota granted")
	}
	return quota, err
}

// ResetAll sets every user's free quota to quota in one statement.
func (e *entitlementUC) ResetAll(ctx context.Context, quota int) (int64, error) {
	defer logging.TraceDuration(e.log, "EntitlementUC.ResetAll")()
	if quota < 0 {
		return 0, domain.ErrInvalidArgument
	}
	n, err := e.users.ResetAllQuotas(ctx, repository.NoTX, quota)
	if err == nil {
		metrics.IncQuotaGranted("bulk_reset")
	}
	return n, err
}
