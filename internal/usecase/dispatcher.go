package usecase

import (
	"context"
	"errors"
	"time"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	"whatsapp-voice-subscription/internal/infra/logging"
	"whatsapp-voice-subscription/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ Dispatcher = (*dispatcher)(nil)

// Dispatcher runs the command carried by a conversational message and replies
// to the sender. Failures become user-facing replies; the returned error is
// for logging only.
type Dispatcher interface {
	Handle(ctx context.Context, msg model.ConversationMessage) error
}

type dispatcher struct {
	users       UserUseCase
	ledger      EntitlementUseCase
	subs        SubscriptionUseCase
	referrals   ReferralUseCase
	admin       AdminUseCase
	transcriber adapter.TranscriptionAdapter
	limiter     repository.RateLimiter
	notify      *notifier
	timeouts    Timeouts
	now         func() time.Time
	log         *zerolog.Logger
}

func NewDispatcher(
	users UserUseCase,
	ledger EntitlementUseCase,
	subs SubscriptionUseCase,
	referrals ReferralUseCase,
	admin AdminUseCase,
	transcriber adapter.TranscriptionAdapter,
	messaging adapter.MessagingAdapter,
	limiter repository.RateLimiter,
	timeouts Timeouts,
	logger *zerolog.Logger,
) *dispatcher {
	l := logger.With().Str("component", "Dispatcher").Logger()
	timeouts = timeouts.withDefaults()
	return &dispatcher{
		users:       users,
		ledger:      ledger,
		subs:        subs,
		referrals:   referrals,
		admin:       admin,
		transcriber: transcriber,
		limiter:     limiter,
		notify:      newNotifier(messaging, InlineExecutor{}, timeouts.Messaging, &l),
		timeouts:    timeouts,
		now:         time.Now,
		log:         &l,
	}
}

func (d *dispatcher) Handle(ctx context.Context, msg model.ConversationMessage) error {
	defer logging.TraceDuration(d.log, "Dispatcher.Handle")()
	log := logging.With(ctx, d.log)

	if d.limiter != nil {
		ok, err := d.limiter.Allow(ctx, msg.From)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable; allowing message")
		} else if !ok {
			metrics.IncRateLimited()
			log.Info().Msg("message rate limited")
			return nil
		}
	}

	u, _, err := d.users.RegisterOrFetch(ctx, msg.From, msg.Name)
	if err != nil {
		log.Error().Err(err).Msg("register user failed")
		d.reply(ctx, msg, msgGenericError)
		return err
	}

	cmd := msg.Command
	if cmd == nil {
		cmd = model.HelpCommand{Text: msg.Text}
	}
	metrics.IncCommand(cmd.Name())

	var reply string
	switch c := cmd.(type) {
	case model.StatusCommand:
		reply, err = d.status(ctx, u)
	case model.PreferenceCommand:
		reply, err = d.preference(ctx, u, c)
	case model.SubscribeCommand:
		reply, err = d.subscribe(ctx, u)
	case model.UnsubscribeCommand:
		reply, err = d.unsubscribe(ctx, u)
	case model.ReferralCommand:
		reply, err = d.referral(ctx, u)
	case model.HelloCommand:
		reply, err = d.hello(ctx, u, c)
	case model.MediaCommand:
		return d.media(ctx, u, msg, c)
	case model.AdminCommand:
		reply, err = d.admin.HandleCommand(ctx, u.Phone, c)
	case model.HelpCommand:
		reply = helpText
	default:
		reply = helpText
	}
	if err != nil {
		log.Warn().Err(err).Str("command", cmd.Name()).Msg("command failed")
	}
	d.reply(ctx, msg, reply)
	return err
}

func (d *dispatcher) reply(ctx context.Context, msg model.ConversationMessage, text string) {
	if text == "" {
		return
	}
	_ = d.notify.send(ctx, msg.From, text, msg.Channel)
}

func (d *dispatcher) status(ctx context.Context, u *model.User) (string, error) {
	ref, err := d.referrals.Summary(ctx, u)
	if err != nil {
		// status still renders without referral data
		d.log.Warn().Err(err).Msg("referral summary unavailable")
	}
	return statusMessage(u, ref, d.now()), nil
}

func (d *dispatcher) preference(ctx context.Context, u *model.User, c model.PreferenceCommand) (string, error) {
	usage, invalid := msgDetailUsage, msgDetailInvalid
	if c.Key == model.PreferenceMode {
		usage, invalid = msgModeUsage, msgModeInvalid
	}
	if len(c.Args) != 1 {
		return usage, nil
	}
	updated, err := d.users.SetPreference(ctx, u.Phone, c.Key, c.Args[0])
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return invalid, nil
	case err != nil:
		return msgGenericError, err
	}
	return preferenceMessage(c.Key, updated), nil
}

func (d *dispatcher) subscribe(ctx context.Context, u *model.User) (string, error) {
	res, err := d.subs.Subscribe(ctx, u.Phone)
	switch {
	case errors.Is(err, domain.ErrAlreadySubscribed):
		return msgAlreadySubscribed, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return msgSubscribeSuspended, nil
	case err != nil:
		return msgSubscriptionError, err
	}
	return subscribeMessage(res.ApprovalURL, res.Reused), nil
}

func (d *dispatcher) unsubscribe(ctx context.Context, u *model.User) (string, error) {
	err := d.subs.Unsubscribe(ctx, u.Phone)
	switch {
	case errors.Is(err, domain.ErrNotSubscribed):
		return msgNotSubscribed, nil
	case err != nil:
		return msgUnsubscribeError, err
	}
	return msgUnsubscribed, nil
}

func (d *dispatcher) referral(ctx context.Context, u *model.User) (string, error) {
	ref, err := d.referrals.Code(ctx, u.Phone)
	if err != nil {
		return msgGenericError, err
	}
	return referralMessage(ref), nil
}

func (d *dispatcher) hello(ctx context.Context, u *model.User, c model.HelloCommand) (string, error) {
	if len(c.Args) != 1 {
		return msgHelloUsage, nil
	}
	_, err := d.referrals.RedeemCode(ctx, u.Phone, c.Args[0])
	switch {
	case errors.Is(err, domain.ErrInvalidReferralCode):
		return msgReferralInvalid, nil
	case errors.Is(err, domain.ErrSelfReferral):
		return msgReferralSelf, nil
	case errors.Is(err, domain.ErrAlreadyReferred):
		return msgReferralAlready, nil
	case err != nil:
		return msgGenericError, err
	}
	return msgReferralAccepted, nil
}

// media gates on entitlement, transcribes outside any lock and consumes
// afterwards. A consume that finds no quota left is logged and the result is
// still delivered.
func (d *dispatcher) media(ctx context.Context, u *model.User, msg model.ConversationMessage, c model.MediaCommand) error {
	if c.MediaRef == "" {
		d.reply(ctx, msg, msgMediaMissing)
		return nil
	}
	if !u.IsEntitled(d.now()) {
		d.reply(ctx, msg, msgNoQuota)
		return nil
	}

	d.reply(ctx, msg, msgProcessing)

	var text string
	err := callCollaborator(ctx, d.timeouts.Transcription, "transcription", "transcribe", func(ctx context.Context) error {
		var terr error
		text, terr = d.transcriber.Transcribe(ctx, c.MediaRef, u.Preference())
		return terr
	})
	if err != nil {
		d.log.Error().Err(err).Msg("transcription failed")
		d.reply(ctx, msg, msgTranscriptionError)
		return err
	}

	if _, err := d.ledger.Consume(ctx, u.Phone); err != nil {
		if errors.Is(err, domain.ErrNoQuota) {
			d.log.Warn().Msg("quota exhausted during transcription; result delivered uncharged")
		} else {
			d.log.Error().Err(err).Msg("consume failed after transcription")
		}
	}

	d.reply(ctx, msg, transcriptMessage(u.Mode, text))
	return nil
}
