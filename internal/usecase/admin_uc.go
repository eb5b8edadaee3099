package usecase

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	"whatsapp-voice-subscription/internal/infra/logging"
	"whatsapp-voice-subscription/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ AdminUseCase = (*adminUC)(nil)

const (
	AdminActionReset = "reset"
	AdminActionGrant = "grant"

	ChannelChat = "chat"
	ChannelAPI  = "api"
)

// AdminUseCase runs privileged quota operations. Every attempt, allowed or
// not, leaves an audit record.
type AdminUseCase interface {
	// HandleCommand authorizes a chat admin command and returns the reply text.
	HandleCommand(ctx context.Context, actor string, cmd model.AdminCommand) (string, error)
	ResetAllQuotas(ctx context.Context, actor, channel string, quota int) (int64, error)
	GrantQuota(ctx context.Context, actor, channel, phone string, count int) (int, error)
}

type AdminConfig struct {
	Secret string
	Phones []string // allowed chat senders; empty disables chat admin
}

type adminUC struct {
	ledger  EntitlementUseCase
	audit   repository.AuditRepository
	ops     adapter.OpsNotifier
	secret  [32]byte
	enabled bool
	allowed map[string]struct{}
	timeout time.Duration
	now     func() time.Time
	log     *zerolog.Logger
}

func NewAdminUseCase(ledger EntitlementUseCase, audit repository.AuditRepository, ops adapter.OpsNotifier, cfg AdminConfig, timeouts Timeouts, logger *zerolog.Logger) *adminUC {
	l := logger.With().Str("component", "AdminUC").Logger()
	allowed := make(map[string]struct{}, len(cfg.Phones))
	for _, p := range cfg.Phones {
		allowed[strings.TrimPrefix(strings.TrimSpace(p), "+")] = struct{}{}
	}
	return &adminUC{
		ledger:  ledger,
		audit:   audit,
		ops:     ops,
		secret:  sha256.Sum256([]byte(cfg.Secret)),
		enabled: cfg.Secret != "" && len(allowed) > 0,
		allowed: allowed,
		timeout: timeouts.withDefaults().Messaging,
		now:     time.Now,
		log:     &l,
	}
}

func (a *adminUC) authorize(actor, secret string) bool {
	if !a.enabled {
		return false
	}
	got := sha256.Sum256([]byte(secret))
	secretOK := subtle.ConstantTimeCompare(got[:], a.secret[:]) == 1
	_, phoneOK := a.allowed[strings.TrimPrefix(actor, "+")]
	return secretOK && phoneOK
}

func (a *adminUC) HandleCommand(ctx context.Context, actor string, cmd model.AdminCommand) (string, error) {
	defer logging.TraceDuration(a.log, "AdminUC.HandleCommand")()

	if !a.authorize(actor, cmd.Secret) {
		a.record(ctx, model.NewAdminAction(actor, cmd.Action, "denied", a.now()), ChannelChat)
		return msgAdminDenied, domain.ErrUnauthorized
	}

	switch cmd.Action {
	case AdminActionReset:
		if len(cmd.Args) != 1 {
			return msgAdminUsage, nil
		}
		quota, err := strconv.Atoi(cmd.Args[0])
		if err != nil || quota < 0 {
			return msgAdminUsage, nil
		}
		n, err := a.ResetAllQuotas(ctx, actor, ChannelChat, quota)
		if err != nil {
			return msgGenericError, err
		}
		return fmt.Sprintf("Free quota set to %d for %d users.", quota, n), nil
	case AdminActionGrant:
		if len(cmd.Args) != 2 {
			return msgAdminUsage, nil
		}
		count, err := strconv.Atoi(cmd.Args[1])
		if err != nil {
			return msgAdminUsage, nil
		}
		quota, err := a.GrantQuota(ctx, actor, ChannelChat, cmd.Args[0], count)
		if err != nil {
			return msgGenericError, err
		}
		return fmt.Sprintf("%s now has %d free summaries.", cmd.Args[0], quota), nil
	}
	return msgAdminUsage, nil
}

// ResetAllQuotas is the bulk reset. Chat callers are authorized by
// HandleCommand; API callers by the bearer key.
func (a *adminUC) ResetAllQuotas(ctx context.Context, actor, channel string, quota int) (int64, error) {
	defer logging.TraceDuration(a.log, "AdminUC.ResetAllQuotas")()

	action := model.NewAdminAction(actor, AdminActionReset, fmt.Sprintf("quota=%d", quota), a.now())
	n, err := a.ledger.ResetAll(ctx, quota)
	if err != nil {
		action.Detail += " error=" + err.Error()
		a.record(ctx, action, channel)
		return 0, err
	}
	action.Allowed, action.Affected = true, n
	a.record(ctx, action, channel)
	return n, nil
}

func (a *adminUC) GrantQuota(ctx context.Context, actor, channel, phone string, count int) (int, error) {
	defer logging.TraceDuration(a.log, "AdminUC.GrantQuota")()

	action := model.NewAdminAction(actor, AdminActionGrant, fmt.Sprintf("phone=%s count=%d", phone, count), a.now())
	quota, err := a.ledger.Grant(ctx, phone, count, "admin")
	if err != nil {
		action.Detail += " error=" + err.Error()
		a.record(ctx, action, channel)
		return 0, err
	}
	action.Allowed, action.Affected = true, 1
	a.record(ctx, action, channel)
	return quota, nil
}

// record persists the audit row, logs it, counts it and alerts ops. Failures
// here never fail the admin operation itself.
func (a *adminUC) record(ctx context.Context, action *model.AdminAction, channel string) {
	status := "denied"
	if action.Allowed {
		status = "ok"
	} else if action.Detail != "denied" {
		status = "error"
	}
	metrics.IncAdminAction(action.Action, channel, status)

	a.log.Warn().
		Str("audit_id", action.ID).
		Str("actor", action.Actor).
		Str("action", action.Action).
		Str("channel", channel).
		Str("status", status).
		Int64("affected", action.Affected).
		Msg("admin action")

	if err := a.audit.Save(ctx, repository.NoTX, action); err != nil {
		a.log.Error().Err(err).Str("audit_id", action.ID).Msg("failed to persist admin audit record")
	}

	if a.ops == nil {
		return
	}
	text := fmt.Sprintf("[admin] %s %s by %s via %s: %s (affected %d)", status, action.Action, action.Actor, channel, action.Detail, action.Affected)
	err := callCollaborator(ctx, a.timeout, "ops", "notify", func(ctx context.Context) error {
		return a.ops.Notify(ctx, text)
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("ops alert failed")
	}
}
