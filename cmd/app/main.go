package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"whatsapp-voice-subscription/internal/config"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	"whatsapp-voice-subscription/internal/infra/adapters/paypal"
	"whatsapp-voice-subscription/internal/infra/adapters/telegram"
	"whatsapp-voice-subscription/internal/infra/adapters/transcription"
	"whatsapp-voice-subscription/internal/infra/adapters/whatsapp"
	"whatsapp-voice-subscription/internal/infra/api"
	pg "whatsapp-voice-subscription/internal/infra/db/postgres"
	"whatsapp-voice-subscription/internal/infra/locker"
	"whatsapp-voice-subscription/internal/infra/logging"
	"whatsapp-voice-subscription/internal/infra/metrics"
	red "whatsapp-voice-subscription/internal/infra/redis"
	"whatsapp-voice-subscription/internal/infra/sched"
	"whatsapp-voice-subscription/internal/infra/security"
	"whatsapp-voice-subscription/internal/infra/worker"
	"whatsapp-voice-subscription/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("application stopped with error")
	}
	logger.Info().Msg("application stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("development mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// ---- Redis (optional unless it backs the lock) ----
	var rdb *red.Client
	if cfg.Redis.URL != "" {
		rdb, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
	} else {
		logger.Warn().Msg("redis not configured; delivery dedup and rate limiting disabled")
	}

	userLocker, err := newLocker(cfg, rdb, pool, logger)
	if err != nil {
		return err
	}

	// ---- Repositories ----
	userRepo := pg.NewPostgresUserRepo(pool)
	historyRepo := pg.NewPostgresHistoryRepo(pool)
	auditRepo := pg.NewPostgresAuditRepo(pool)
	tm := pg.NewTxManager(pool)

	var (
		deduper repository.EventDeduper
		limiter repository.RateLimiter
	)
	if rdb != nil {
		deduper = red.NewDeduper(rdb, "dedup:", cfg.Redis.DedupTTL)
		limiter = red.NewRateLimiter(rdb, "rl:", cfg.RateLimit.MessagesPerWindow, cfg.RateLimit.Window)
	}

	// ---- Adapters ----
	wa, err := whatsapp.NewClient(whatsapp.Config{
		Token:         cfg.WhatsApp.Token,
		VerifyToken:   cfg.WhatsApp.VerifyToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		APIVersion:    cfg.WhatsApp.APIVersion,
		BaseURL:       cfg.WhatsApp.BaseURL,
		SendRPS:       cfg.WhatsApp.SendRPS,
	}, logger)
	if err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}

	pp, err := paypal.NewClient(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		BaseURL:      cfg.PayPal.APIURL,
		PlanID:       cfg.PayPal.PlanID,
		WebhookID:    cfg.PayPal.WebhookID,
		BrandName:    cfg.PayPal.BrandName,
	}, logger)
	if err != nil {
		return fmt.Errorf("paypal: %w", err)
	}

	transcriber, err := newTranscriber(ctx, cfg, wa, logger)
	if err != nil {
		return err
	}

	ops, err := newOpsNotifier(cfg, logger)
	if err != nil {
		return err
	}

	signer, err := security.NewRedirectSigner(cfg.Security.RedirectSecret, cfg.App.PublicURL, cfg.Security.RedirectTTL)
	if err != nil {
		return fmt.Errorf("redirect signer: %w", err)
	}

	// ---- Worker pool ----
	workers := worker.NewPool(cfg.Workers.Count, cfg.Workers.Queue, logger)
	workers.Start(context.WithoutCancel(ctx))
	defer workers.Stop()

	// ---- Use cases ----
	timeouts := usecase.Timeouts{
		Messaging:     cfg.Timeouts.Messaging,
		Billing:       cfg.Timeouts.Billing,
		Transcription: cfg.Timeouts.Transcription,
	}
	userUC := usecase.NewUserUseCase(userRepo, tm, userLocker, cfg.App.FreeQuota, logger)
	ledgerUC := usecase.NewEntitlementUseCase(userRepo, tm, userLocker, logger)
	subUC := usecase.NewSubscriptionUseCase(userRepo, historyRepo, tm, userLocker, pp, signer, wa, workers, timeouts, logger)
	referralUC := usecase.NewReferralUseCase(userRepo, tm, userLocker, wa, workers, timeouts, usecase.ReferralConfig{
		Secret:        []byte(cfg.Security.ReferralSecret),
		DisplayNumber: cfg.WhatsApp.DisplayNumber,
		Threshold:     cfg.App.ReferralThreshold,
		BonusWindow:   time.Duration(cfg.App.BonusDays) * 24 * time.Hour,
	}, logger)
	adminUC := usecase.NewAdminUseCase(ledgerUC, auditRepo, ops, usecase.AdminConfig{
		Secret: cfg.Admin.Secret,
		Phones: cfg.Admin.Phones,
	}, timeouts, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, historyRepo, auditRepo, logger)
	dispatcher := usecase.NewDispatcher(userUC, ledgerUC, subUC, referralUC, adminUC, transcriber, wa, limiter, timeouts, logger)

	// ---- HTTP ----
	health := map[string]api.HealthCheck{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
	}
	if rdb != nil {
		health["redis"] = rdb.Ping
	}
	chatURL := ""
	if cfg.WhatsApp.DisplayNumber != "" {
		chatURL = "https://wa.me/" + cfg.WhatsApp.DisplayNumber
	}
	server := api.NewServer(api.Deps{
		Verifier:    wa,
		Normalizer:  usecase.NewNormalizer(cfg.Admin.CommandPrefix),
		Dispatcher:  dispatcher,
		Executor:    workers,
		Signatures:  pp,
		Deduper:     deduper,
		Reconciler:  subUC,
		Tokens:      signer,
		Admin:       adminUC,
		Stats:       statsUC,
		Health:      health,
		AdminAPIKey: cfg.Admin.APIKey,
		BrandName:   cfg.PayPal.BrandName,
		ChatURL:     chatURL,
	}, api.Options{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		WebhookTimeout:  cfg.Timeouts.Webhook,
		VerifyTimeout:   cfg.Timeouts.Billing,
		OverflowTimeout: cfg.Timeouts.Transcription + 2*cfg.Timeouts.Messaging,
		MaxOverflow:     cfg.Workers.Count,
	}, logger)

	statsWorker := sched.NewStatsWorker(cfg.Scheduler.StatsInterval, statsUC, poolStats(pool), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return statsWorker.Run(gctx) })

	logger.Info().
		Str("version", version).
		Str("lock_backend", cfg.Locking.Backend).
		Str("summarizer", cfg.Transcription.Summarizer).
		Msg("application started")
	return g.Wait()
}

func newLocker(cfg *config.Config, rdb *red.Client, pool *pgxpool.Pool, logger *zerolog.Logger) (repository.UserLocker, error) {
	switch cfg.Locking.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis lock backend requires redis.url")
		}
		return red.NewLocker(rdb, cfg.Redis.LockTTL, logger), nil
	case "postgres":
		return pg.NewAdvisoryLocker(pool, logger), nil
	case "local":
		logger.Warn().Msg("using in-process user lock; run a single replica")
		return locker.NewLocal(), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", cfg.Locking.Backend)
}

func newTranscriber(ctx context.Context, cfg *config.Config, media adapter.MediaFetcher, logger *zerolog.Logger) (*transcription.Service, error) {
	trimmer := transcription.NewTrimmer("cl100k_base", cfg.Transcription.MaxInputTokens)
	oa, err := transcription.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.TranscriptionModel, cfg.OpenAI.SummaryModel, cfg.Transcription.MaxOutputTokens, trimmer)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	var summarizer adapter.Summarizer = oa
	if cfg.Transcription.Summarizer == "gemini" {
		gm, err := transcription.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.BaseURL, cfg.Gemini.Model, cfg.Transcription.MaxOutputTokens, trimmer)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		summarizer = gm
	}

	n := cfg.Transcription.ConcurrentLimit
	return transcription.NewService(
		media,
		transcription.NewLimitedSTT(oa, n),
		transcription.NewLimitedSummarizer(summarizer, n),
		logger,
	), nil
}

func newOpsNotifier(cfg *config.Config, logger *zerolog.Logger) (adapter.OpsNotifier, error) {
	if cfg.Admin.TelegramToken == "" {
		return telegram.NewNoopOpsNotifier(logger), nil
	}
	n, err := telegram.NewOpsNotifier(cfg.Admin.TelegramToken, cfg.Admin.TelegramChatID, logger)
	if err != nil {
		return nil, fmt.Errorf("ops notifier: %w", err)
	}
	return n, nil
}

func poolStats(pool *pgxpool.Pool) sched.PoolStatsFunc {
	return func() (int32, int32, int32) {
		st := pool.Stat()
		return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
	}
}
