// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	ucport "whatsapp-voice-subscription/internal/domain/ports/usecase"
	"whatsapp-voice-subscription/internal/infra/logging"
	"whatsapp-voice-subscription/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionUseCase reconciles the subscription state machine against
// user commands, billing webhooks and browser redirects.
type SubscriptionUseCase interface {
	ucport.SubscriptionReconciler
	Subscribe(ctx context.Context, phone string) (*SubscribeResult, error)
	Unsubscribe(ctx context.Context, phone string) error
}

// RedirectLinker builds the signed browser return URLs for a user.
type RedirectLinker interface {
	Links(phone string) (adapter.RedirectLinks, error)
}

type SubscribeResult struct {
	ApprovalURL string
	Reused      bool
}

type subscriptionUC struct {
	users    repository.UserRepository
	history  repository.SubscriptionHistoryRepository
	tm       repository.TransactionManager
	locker   repository.UserLocker
	billing  adapter.BillingAdapter
	linker   RedirectLinker
	notify   *notifier
	timeouts Timeouts
	now      func() time.Time
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	users repository.UserRepository,
	history repository.SubscriptionHistoryRepository,
	tm repository.TransactionManager,
	locker repository.UserLocker,
	billing adapter.BillingAdapter,
	linker RedirectLinker,
	messaging adapter.MessagingAdapter,
	exec Executor,
	timeouts Timeouts,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	timeouts = timeouts.withDefaults()
	return &subscriptionUC{
		users:    users,
		history:  history,
		tm:       tm,
		locker:   locker,
		billing:  billing,
		linker:   linker,
		notify:   newNotifier(messaging, exec, timeouts.Messaging, &l),
		timeouts: timeouts,
		now:      time.Now,
		log:      &l,
	}
}

// Subscribe returns the approval link for a new or pending subscription.
// The billing call happens outside the user lock; the state is re-checked
// before the PENDING record is written.
func (s *subscriptionUC) Subscribe(ctx context.Context, phone string) (*SubscribeResult, error) {
	defer logging.TraceDuration(s.log, "SubscriptionUC.Subscribe")()

	u, err := s.users.FindByPhone(ctx, repository.NoTX, phone)
	if err != nil {
		return nil, err
	}
	reuse, err := u.Subscription.CheckSubscribe()
	if err != nil {
		metrics.IncSubscriptionTransition("subscribe", "invalid")
		return nil, err
	}
	if reuse {
		metrics.IncSubscriptionTransition("subscribe", string(model.OutcomeNoOp))
		return &SubscribeResult{ApprovalURL: u.Subscription.ApprovalURL, Reused: true}, nil
	}

	links, err := s.linker.Links(phone)
	if err != nil {
		return nil, err
	}
	var created *adapter.BillingSubscription
	err = callCollaborator(ctx, s.timeouts.Billing, "billing", "create_subscription", func(ctx context.Context) error {
		var cerr error
		created, cerr = s.billing.CreateSubscription(ctx, phone, links)
		return cerr
	})
	if err != nil {
		metrics.IncSubscriptionTransition("subscribe", "error")
		return nil, err
	}

	var res *SubscribeResult
	err = withUserLock(ctx, s.locker, phone, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := s.users.FindByPhone(ctx, tx, phone)
			if err != nil {
				return err
			}
			reuse, err := cur.Subscription.CheckSubscribe()
			if err != nil {
				return err
			}
			if reuse {
				s.log.Warn().Str("orphan_external_id", created.ExternalID).Msg("concurrent subscribe; keeping existing pending record")
				res = &SubscribeResult{ApprovalURL: cur.Subscription.ApprovalURL, Reused: true}
				return nil
			}

			now := s.now()
			if cur.Subscription.ExternalID != "" {
				if err := s.history.Save(ctx, tx, model.NewSubscriptionHistory(phone, cur.Subscription, now)); err != nil {
					return err
				}
			}
			next, err := cur.Subscription.BeginPending(created.ExternalID, created.ApprovalURL, now)
			if err != nil {
				return err
			}
			cur.Subscription = next
			if err := s.users.Save(ctx, tx, cur); err != nil {
				return err
			}
			res = &SubscribeResult{ApprovalURL: created.ApprovalURL}
			return nil
		})
	})
	if err != nil {
		metrics.IncSubscriptionTransition("subscribe", "error")
		return nil, err
	}
	metrics.IncSubscriptionTransition("subscribe", string(model.OutcomeApplied))
	s.log.Info().Str("external_id", created.ExternalID).Bool("reused", res.Reused).Msg("subscription pending")
	return res, nil
}

// Unsubscribe cancels with the billing provider first. Local state moves to
// CANCELLED only after the provider accepted the cancellation.
func (s *subscriptionUC) Unsubscribe(ctx context.Context, phone string) error {
	defer logging.TraceDuration(s.log, "SubscriptionUC.Unsubscribe")()

	u, err := s.users.FindByPhone(ctx, repository.NoTX, phone)
	if err != nil {
		return err
	}
	if u.Subscription.Status != model.SubscriptionActive {
		metrics.IncSubscriptionTransition("unsubscribe", "invalid")
		return domain.ErrNotSubscribed
	}
	externalID := u.Subscription.ExternalID

	err = callCollaborator(ctx, s.timeouts.Billing, "billing", "cancel_subscription", func(ctx context.Context) error {
		return s.billing.CancelSubscription(ctx, externalID, "Cancelled by the user via chat")
	})
	if err != nil {
		metrics.IncSubscriptionTransition("unsubscribe", "error")
		s.log.Error().Err(err).Str("external_id", externalID).Msg("billing cancel failed; local state unchanged")
		return err
	}

	err = withUserLock(ctx, s.locker, phone, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := s.users.FindByPhone(ctx, tx, phone)
			if err != nil {
				return err
			}
			if cur.Subscription.ExternalID != externalID || cur.Subscription.Status != model.SubscriptionActive {
				// a webhook got here first
				return nil
			}
			next, err := cur.Subscription.Cancel(s.now())
			if err != nil {
				return err
			}
			cur.Subscription = next
			return s.users.Save(ctx, tx, cur)
		})
	})
	if err != nil {
		metrics.IncSubscriptionTransition("unsubscribe", "error")
		return err
	}
	metrics.IncSubscriptionTransition("unsubscribe", string(model.OutcomeApplied))
	return nil
}

// ApplyLifecycle applies a verified billing webhook event. Unknown event
// types, unknown subscriptions, repeats and transitions the state machine
// rejects are logged and acknowledged without error. Only storage failures
// are returned.
func (s *subscriptionUC) ApplyLifecycle(ctx context.Context, ev model.BillingLifecycle) (*model.TransitionResult, error) {
	defer logging.TraceDuration(s.log, "SubscriptionUC.ApplyLifecycle")()

	log := s.log.With().Str("event_type", ev.EventType).Str("external_id", ev.SubscriptionExternalID).Logger()
	res := &model.TransitionResult{ExternalID: ev.SubscriptionExternalID, Event: ev.Event, Outcome: model.OutcomeNoOp}

	if ev.Event == model.LifecycleUnknown {
		log.Info().Msg("ignoring unhandled billing event type")
		metrics.IncSubscriptionTransition("lifecycle", "ignored")
		return res, nil
	}

	owner, err := s.users.FindBySubscriptionID(ctx, repository.NoTX, ev.SubscriptionExternalID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("billing event for unknown subscription dropped")
		metrics.IncSubscriptionTransition("lifecycle", "dropped")
		return res, nil
	}
	if err != nil {
		metrics.IncSubscriptionTransition("lifecycle", "error")
		return nil, err
	}
	res.Phone = owner.Phone

	var invalid bool
	err = withUserLock(ctx, s.locker, owner.Phone, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := s.users.FindByPhone(ctx, tx, owner.Phone)
			if err != nil {
				return err
			}
			res.From, res.To = cur.Subscription.Status, cur.Subscription.Status
			if cur.Subscription.ExternalID != ev.SubscriptionExternalID {
				// superseded by a newer subscribe cycle
				res.Outcome = model.OutcomeStale
				return nil
			}

			next, outcome, err := cur.Subscription.Apply(ev.Event, ev.OccurredAt, s.now())
			res.Outcome = outcome
			if errors.Is(err, domain.ErrInvalidTransition) {
				invalid = true
				return nil
			}
			if err != nil {
				return err
			}
			if outcome == model.OutcomeStale {
				return nil
			}
			if ev.NextBillingAt != nil && next.Status == model.SubscriptionActive {
				next.NextBillingAt = ev.NextBillingAt
			}
			res.To = next.Status
			cur.Subscription = next
			return s.users.Save(ctx, tx, cur)
		})
	})
	if err != nil {
		metrics.IncSubscriptionTransition("lifecycle", "error")
		// user is known; the caller acknowledges and logs
		return res, err
	}

	switch {
	case invalid:
		log.Warn().Str("status", string(res.From)).Msg("billing event not valid for current state; ignored")
		metrics.IncSubscriptionTransition("lifecycle", "invalid")
	default:
		metrics.IncSubscriptionTransition("lifecycle", string(res.Outcome))
	}

	if res.Changed() {
		log.Info().Str("from", string(res.From)).Str("to", string(res.To)).Msg("subscription transitioned")
		if text, ok := lifecycleMessages[ev.Event]; ok {
			s.notify.sendAsync(owner.Phone, text)
		}
	}
	return res, nil
}

// ConfirmRedirect handles the browser return from the billing approval page.
func (s *subscriptionUC) ConfirmRedirect(ctx context.Context, ev model.RedirectConfirmation) (*model.TransitionResult, error) {
	defer logging.TraceDuration(s.log, "SubscriptionUC.ConfirmRedirect")()

	if ev.Outcome == model.RedirectCancelled {
		return &model.TransitionResult{Phone: ev.Phone, Outcome: model.OutcomeNoOp}, s.NotifyRedirectCancelled(ctx, ev.Phone)
	}

	res := &model.TransitionResult{Phone: ev.Phone, ExternalID: ev.SubscriptionExternalID, Event: model.LifecycleActivated}
	err := withUserLock(ctx, s.locker, ev.Phone, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := s.users.FindByPhone(ctx, tx, ev.Phone)
			if err != nil {
				return err
			}
			res.From = cur.Subscription.Status
			next, outcome, err := cur.Subscription.Confirm(ev.SubscriptionExternalID, s.now())
			if err != nil {
				return err
			}
			res.To, res.Outcome = next.Status, outcome
			if outcome != model.OutcomeApplied {
				return nil
			}
			cur.Subscription = next
			return s.users.Save(ctx, tx, cur)
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			metrics.IncSubscriptionTransition("redirect", "invalid")
		} else {
			metrics.IncSubscriptionTransition("redirect", "error")
		}
		return nil, err
	}
	metrics.IncSubscriptionTransition("redirect", string(res.Outcome))
	if res.Changed() {
		s.notify.sendAsync(ev.Phone, msgRedirectActivated)
	}
	return res, nil
}

// NotifyRedirectCancelled tells the user the approval was abandoned. State is untouched.
func (s *subscriptionUC) NotifyRedirectCancelled(ctx context.Context, phone string) error {
	if _, err := s.users.FindByPhone(ctx, repository.NoTX, phone); err != nil {
		return err
	}
	metrics.IncSubscriptionTransition("redirect", "cancelled")
	s.notify.sendAsync(phone, msgRedirectCancelled)
	return nil
}
