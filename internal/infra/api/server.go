package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	ucport "whatsapp-voice-subscription/internal/domain/ports/usecase"
	"whatsapp-voice-subscription/internal/infra/i18n"
	"whatsapp-voice-subscription/internal/usecase"
)

// ChallengeVerifier answers the WhatsApp webhook handshake.
type ChallengeVerifier interface {
	VerifyChallenge(mode, token, challenge string) (string, error)
}

// ConversationNormalizer turns a WhatsApp webhook body into an event.
type ConversationNormalizer interface {
	NormalizeConversation(body []byte) (model.Event, error)
}

// SignatureVerifier checks a billing webhook transmission.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, headers http.Header, body []byte) (bool, error)
}

// TokenVerifier resolves the signed redirect token to a phone.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// HealthCheck reports one dependency. A nil error is healthy.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Verifier    ChallengeVerifier
	Normalizer  ConversationNormalizer
	Dispatcher  usecase.Dispatcher
	Executor    usecase.Executor
	Signatures  SignatureVerifier
	Deduper     repository.EventDeduper
	Reconciler  ucport.SubscriptionReconciler
	Tokens      TokenVerifier
	Admin       usecase.AdminUseCase
	Stats       usecase.StatsUseCase
	Health      map[string]HealthCheck
	Pages       *i18n.Catalog // nil loads the embedded locales
	AdminAPIKey string
	BrandName   string
	ChatURL     string // wa.me link shown on redirect pages
}

type Options struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	WebhookTimeout  time.Duration
	VerifyTimeout   time.Duration
	OverflowTimeout time.Duration // bounds a delivery run outside the worker pool
	MaxOverflow     int
}

type Server struct {
	deps     Deps
	opts     Options
	validate *validator.Validate
	pages    *i18n.Catalog
	overflow chan struct{}
	log      *zerolog.Logger
}

func NewServer(deps Deps, opts Options, logger *zerolog.Logger) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 10 * time.Second
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 8 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.OverflowTimeout <= 0 {
		opts.OverflowTimeout = 2 * time.Minute
	}
	if opts.MaxOverflow <= 0 {
		opts.MaxOverflow = 16
	}
	pages := deps.Pages
	if pages == nil {
		var err error
		if pages, err = i18n.Default(); err != nil {
			panic(fmt.Sprintf("load embedded locales: %v", err))
		}
	}
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		deps:     deps,
		opts:     opts,
		validate: validator.New(),
		pages:    pages,
		overflow: make(chan struct{}, opts.MaxOverflow),
		log:      &l,
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Timeout(s.opts.WebhookTimeout), BodyLimit(s.opts.MaxBodyBytes))
		r.Get("/webhook", s.handleWhatsAppVerify)
		r.Post("/webhook", s.handleWhatsAppEvent)
		r.Post("/webhooks/paypal", s.handlePayPalEvent)
		r.Get("/paypal/success", s.handleRedirect(model.RedirectSuccess))
		r.Get("/paypal/cancel", s.handleRedirect(model.RedirectCancelled))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(s.deps.AdminAPIKey, s.log), BodyLimit(64<<10))
		r.Get("/stats", s.handleStats)
		r.Get("/audit", s.handleAudit)
		r.Get("/users/{phone}/history", s.handleHistory)
		r.Post("/users/{phone}/grant", s.handleGrant)
		r.Post("/quota/reset", s.handleReset)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Router(),
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.opts.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.log.Info().Msg("HTTP server shutting down")
	return srv.Shutdown(sctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{}
	code := http.StatusOK
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, r, code, map[string]any{"status": http.StatusText(code), "checks": status})
}
