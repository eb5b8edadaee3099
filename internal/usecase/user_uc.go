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

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase registers users on first contact and manages their preferences.
type UserUseCase interface {
	RegisterOrFetch(ctx context.Context, phone, name string) (*model.User, bool, error)
	GetByPhone(ctx context.Context, phone string) (*model.User, error)
	SetPreference(ctx context.Context, phone string, key model.PreferenceKey, value string) (*model.User, error)
}

type userUC struct {
	users     repository.UserRepository
	tm        repository.TransactionManager
	locker    repository.UserLocker
	freeQuota int
	now       func() time.Time
	log       *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, tm repository.TransactionManager, locker repository.UserLocker, freeQuota int, logger *zerolog.Logger) *userUC {
	l := logger.With().Str("component", "UserUC").Logger()
	return &userUC{
		users:     users,
		tm:        tm,
		locker:    locker,
		freeQuota: freeQuota,
		now:       time.Now,
		log:       &l,
	}
}

// RegisterOrFetch creates the user on first contact, otherwise records the
// interaction. The bool is true when the user was created.
func (u *userUC) RegisterOrFetch(ctx context.Context, phone, name string) (*model.User, bool, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	var user *model.User
	var created bool
	err := withUserLock(ctx, u.locker, phone, func(ctx context.Context) error {
		return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			now := u.now()
			usr, err := u.users.FindByPhone(ctx, tx, phone)
			switch {
			case err == nil:
				touched := usr.Touch(name, now)
				if err := u.users.Save(ctx, tx, &touched); err != nil {
					return err
				}
				user = &touched
				return nil
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}

			nu, err := model.NewUser(phone, name, u.freeQuota, now)
			if err != nil {
				return err
			}
			nu.MessageCount = 1
			if err := u.users.Save(ctx, tx, nu); err != nil {
				return err
			}
			user, created = nu, true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		metrics.IncUsersRegistered()
		u.log.Info().Str("user_id", user.ID).Msg("user registered")
	}
	return user, created, nil
}

func (u *userUC) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.GetByPhone")()
	return u.users.FindByPhone(ctx, repository.NoTX, phone)
}

// SetPreference validates value for key and stores it. An invalid value
// returns ErrInvalidArgument and leaves the user unchanged.
func (u *userUC) SetPreference(ctx context.Context, phone string, key model.PreferenceKey, value string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.SetPreference")()

	var mode model.ResponseMode
	var detail model.DetailLevel
	var err error
	switch key {
	case model.PreferenceMode:
		mode, err = model.ParseResponseMode(value)
	case model.PreferenceDetail:
		detail, err = model.ParseDetailLevel(value)
	default:
		err = domain.ErrInvalidArgument
	}
	if err != nil {
		return nil, err
	}

	var out *model.User
	err = withUserLock(ctx, u.locker, phone, func(ctx context.Context) error {
		return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			usr, err := u.users.FindByPhone(ctx, tx, phone)
			if err != nil {
				return err
			}
			next := usr.WithPreference(mode, detail)
			if err := u.users.Save(ctx, tx, &next); err != nil {
				return err
			}
			out = &next
			return nil
		})
	})
	return out, err
}
