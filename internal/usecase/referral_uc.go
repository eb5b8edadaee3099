package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	"whatsapp-voice-subscription/internal/infra/logging"
	"whatsapp-voice-subscription/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

var _ ReferralUseCase = (*referralUC)(nil)

type ReferralUseCase interface {
	Code(ctx context.Context, phone string) (model.ReferralSummary, error)
	Summary(ctx context.Context, u *model.User) (model.ReferralSummary, error)
	RedeemCode(ctx context.Context, referredPhone, code string) (*RedeemResult, error)
	Redeem(ctx context.Context, referrerPhone, referredPhone string) (*RedeemResult, error)
}

type ReferralConfig struct {
	Secret        []byte
	DisplayNumber string // business number used in wa.me links
	Threshold     int
	BonusWindow   time.Duration
}

type RedeemResult struct {
	ReferrerPhone string
	Count         int
	Grants        int
	BonusUntil    *time.Time
}

type referralUC struct {
	users  repository.UserRepository
	tm     repository.TransactionManager
	locker repository.UserLocker
	notify *notifier
	cfg    ReferralConfig
	now    func() time.Time
	log    *zerolog.Logger
}

func NewReferralUseCase(
	users repository.UserRepository,
	tm repository.TransactionManager,
	locker repository.UserLocker,
	messaging adapter.MessagingAdapter,
	exec Executor,
	timeouts Timeouts,
	cfg ReferralConfig,
	logger *zerolog.Logger,
) *referralUC {
	l := logger.With().Str("component", "ReferralUC").Logger()
	if cfg.Threshold <= 0 {
		cfg.Threshold = model.ReferralThreshold
	}
	if cfg.BonusWindow <= 0 {
		cfg.BonusWindow = 30 * 24 * time.Hour
	}
	timeouts = timeouts.withDefaults()
	return &referralUC{
		users:  users,
		tm:     tm,
		locker: locker,
		notify: newNotifier(messaging, exec, timeouts.Messaging, &l),
		cfg:    cfg,
		now:    time.Now,
		log:    &l,
	}
}

// Code returns the user's referral code, assigning it on first call.
func (r *referralUC) Code(ctx context.Context, phone string) (model.ReferralSummary, error) {
	defer logging.TraceDuration(r.log, "ReferralUC.Code")()

	var code string
	var bonus *time.Time
	err := withUserLock(ctx, r.locker, phone, func(ctx context.Context) error {
		return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			u, err := r.users.FindByPhone(ctx, tx, phone)
			if err != nil {
				return err
			}
			bonus = u.BonusUntil
			if u.ReferralCode != "" {
				code = u.ReferralCode
				return nil
			}
			u.ReferralCode = model.DeriveReferralCode(r.cfg.Secret, phone)
			if err := r.users.Save(ctx, tx, u); err != nil {
				if errors.Is(err, domain.ErrAlreadyExists) {
					return fmt.Errorf("referral code collision: %w", err)
				}
				return err
			}
			code = u.ReferralCode
			return nil
		})
	})
	if err != nil {
		return model.ReferralSummary{}, err
	}

	count, err := r.users.CountReferrals(ctx, repository.NoTX, phone)
	if err != nil {
		return model.ReferralSummary{}, err
	}
	return model.ReferralSummary{
		Code:       code,
		Link:       r.shareLink(code),
		Count:      count,
		Threshold:  r.cfg.Threshold,
		BonusUntil: bonus,
	}, nil
}

// Summary reports referral state without assigning a code.
func (r *referralUC) Summary(ctx context.Context, u *model.User) (model.ReferralSummary, error) {
	sum := model.ReferralSummary{Threshold: r.cfg.Threshold, BonusUntil: u.BonusUntil}
	if u.ReferralCode == "" {
		return sum, nil
	}
	count, err := r.users.CountReferrals(ctx, repository.NoTX, u.Phone)
	if err != nil {
		return sum, err
	}
	sum.Code, sum.Link, sum.Count = u.ReferralCode, r.shareLink(u.ReferralCode), count
	return sum, nil
}

func (r *referralUC) shareLink(code string) string {
	return "https://wa.me/" + r.cfg.DisplayNumber + "?text=" + url.QueryEscape("hello "+code)
}

// RedeemCode resolves code to its owner and records the referral edge.
func (r *referralUC) RedeemCode(ctx context.Context, referredPhone, code string) (*RedeemResult, error) {
	defer logging.TraceDuration(r.log, "ReferralUC.RedeemCode")()

	norm, ok := model.NormalizeReferralCode(code)
	if !ok {
		metrics.IncReferralRedemption("invalid")
		return nil, domain.ErrInvalidReferralCode
	}
	referrer, err := r.users.FindByReferralCode(ctx, repository.NoTX, norm)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncReferralRedemption("invalid")
		return nil, domain.ErrInvalidReferralCode
	}
	if err != nil {
		return nil, err
	}
	if referrer.Phone == referredPhone {
		metrics.IncReferralRedemption("self")
		return nil, domain.ErrSelfReferral
	}
	return r.Redeem(ctx, referrer.Phone, referredPhone)
}

// Redeem writes the referred user's edge once, then rewards the referrer for
// every threshold multiple above its watermark. The two users are locked one
// after the other, never together.
func (r *referralUC) Redeem(ctx context.Context, referrerPhone, referredPhone string) (*RedeemResult, error) {
	defer logging.TraceDuration(r.log, "ReferralUC.Redeem")()

	if referrerPhone == referredPhone {
		return nil, domain.ErrSelfReferral
	}

	err := withUserLock(ctx, r.locker, referredPhone, func(ctx context.Context) error {
		return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			u, err := r.users.FindByPhone(ctx, tx, referredPhone)
			if err != nil {
				return err
			}
			if u.ReferredBy != "" {
				return domain.ErrAlreadyReferred
			}
			u.ReferredBy = referrerPhone
			return r.users.Save(ctx, tx, u)
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyReferred) {
			metrics.IncReferralRedemption("already_referred")
		}
		return nil, err
	}
	metrics.IncReferralRedemption("accepted")

	res := &RedeemResult{ReferrerPhone: referrerPhone}
	err = withUserLock(ctx, r.locker, referrerPhone, func(ctx context.Context) error {
		return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			count, err := r.users.CountReferrals(ctx, tx, referrerPhone)
			if err != nil {
				return err
			}
			u, err := r.users.FindByPhone(ctx, tx, referrerPhone)
			if err != nil {
				return err
			}
			next, grants := u.RewardReferrals(count, r.cfg.Threshold, r.cfg.BonusWindow, r.now())
			res.Count, res.Grants, res.BonusUntil = count, grants, next.BonusUntil
			if grants == 0 {
				return nil
			}
			return r.users.Save(ctx, tx, &next)
		})
	})
	if err != nil {
		// the edge is stored; the reward is re-derived on the next redemption
		r.log.Error().Err(err).Msg("referral reward evaluation failed")
		return res, nil
	}

	if res.Grants > 0 {
		metrics.AddReferralBonus(res.Grants)
		r.log.Info().Int("count", res.Count).Int("grants", res.Grants).Msg("referral bonus granted")
		r.notify.sendAsync(referrerPhone, fmt.Sprintf(msgReferralBonusFormat, res.Count, res.BonusUntil.Format("2006-01-02")))
	}
	return res, nil
}
