package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/infra/logging"
	"whatsapp-voice-subscription/internal/infra/metrics"
	"whatsapp-voice-subscription/internal/infra/worker"
	"whatsapp-voice-subscription/internal/usecase"
)

const (
	sourceWhatsApp = "whatsapp"
	sourcePayPal   = "paypal"
	sourceRedirect = "redirect"
)

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	render.Status(r, code)
	render.JSON(w, r, v)
}

func ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleWhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := s.deps.Verifier.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		metrics.IncWebhookEvent(sourceWhatsApp, "verify", "rejected")
		l := logging.With(r.Context(), s.log)
		l.Warn().Str("mode", q.Get("hub.mode")).Msg("webhook verification failed")
		http.Error(w, "verification failed", http.StatusBadRequest)
		return
	}
	metrics.IncWebhookEvent(sourceWhatsApp, "verify", "processed")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleWhatsAppEvent acknowledges every delivery with 200 and hands the
// command off to the worker pool.
func (s *Server) handleWhatsAppEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.ObserveWebhook(sourceWhatsApp, time.Since(start).Seconds()) }()
	l := logging.With(r.Context(), s.log)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.IncWebhookEvent(sourceWhatsApp, "unknown", "malformed")
		l.Warn().Err(err).Msg("read whatsapp body failed")
		ack(w)
		return
	}

	ev, err := s.deps.Normalizer.NormalizeConversation(body)
	if err != nil {
		metrics.IncWebhookEvent(sourceWhatsApp, "unknown", "malformed")
		l.Info().Err(err).Msg("ignoring malformed whatsapp delivery")
		ack(w)
		return
	}

	msg, ok := ev.(model.ConversationMessage)
	if !ok {
		metrics.IncWebhookEvent(sourceWhatsApp, model.EventKind(ev), "ignored")
		ack(w)
		return
	}
	kind := model.EventKind(ev)

	dedupKey := "wa:" + msg.ID
	if msg.ID != "" && s.deps.Deduper != nil {
		first, err := s.deps.Deduper.MarkFirst(r.Context(), dedupKey)
		if err != nil {
			l.Warn().Err(err).Msg("dedup unavailable; processing delivery")
		} else if !first {
			metrics.IncWebhookEvent(sourceWhatsApp, kind, "duplicate")
			ack(w)
			return
		}
	}

	traceID := logging.TraceIDFrom(r.Context())
	task := func(ctx context.Context) error {
		ctx = logging.WithTraceID(ctx, traceID)
		ctx = logging.WithDeliveryID(ctx, msg.ID)
		ctx = logging.WithPhone(ctx, logging.Redact(msg.From, false))
		return s.deps.Dispatcher.Handle(ctx, msg)
	}
	if err := s.deps.Executor.Submit(task); err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			ack(w)
			s.runOverflow(r.Context(), kind, task)
			return
		}
		l.Error().Err(err).Msg("dispatch rejected")
		if s.deps.Deduper != nil && msg.ID != "" {
			_ = s.deps.Deduper.Forget(r.Context(), dedupKey)
		}
		metrics.IncWebhookEvent(sourceWhatsApp, kind, "error")
		ack(w)
		return
	}
	metrics.IncWebhookEvent(sourceWhatsApp, kind, "processed")
	ack(w)
}

// runOverflow runs a task the worker pool rejected on its own goroutine under
// OverflowTimeout. At most MaxOverflow such tasks run at once; beyond that the
// delivery is dropped.
func (s *Server) runOverflow(parent context.Context, kind string, task func(ctx context.Context) error) {
	l := logging.With(parent, s.log)
	select {
	case s.overflow <- struct{}{}:
	default:
		metrics.IncWebhookEvent(sourceWhatsApp, kind, "dropped")
		l.Error().Msg("worker queue and overflow full; delivery dropped")
		return
	}
	metrics.IncWebhookEvent(sourceWhatsApp, kind, "overflow")
	l.Warn().Msg("worker queue full; dispatching on overflow goroutine")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.opts.OverflowTimeout)
	go func() {
		defer func() { <-s.overflow }()
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				l.Error().Str("panic", fmt.Sprint(rec)).Msg("overflow dispatch panicked")
			}
		}()
		if err := task(ctx); err != nil {
			l.Warn().Err(err).Msg("overflow dispatch failed")
		}
	}()
}

// handlePayPalEvent verifies, deduplicates and applies a billing webhook.
// Only a storage failure before the owner is known yields 500.
func (s *Server) handlePayPalEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.ObserveWebhook(sourcePayPal, time.Since(start).Seconds()) }()
	l := logging.With(r.Context(), s.log)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.IncWebhookEvent(sourcePayPal, "unknown", "malformed")
		ack(w)
		return
	}

	vctx, cancel := context.WithTimeout(r.Context(), s.opts.VerifyTimeout)
	ok, err := s.deps.Signatures.VerifySignature(vctx, r.Header, body)
	cancel()
	if err != nil || !ok {
		metrics.IncWebhookEvent(sourcePayPal, "unknown", "rejected")
		l.Warn().Err(err).Msg("billing webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	ev, err := usecase.NormalizeBilling(body)
	if err != nil {
		metrics.IncWebhookEvent(sourcePayPal, "unknown", "malformed")
		l.Info().Err(err).Msg("ignoring malformed billing event")
		ack(w)
		return
	}
	kind := ev.EventType
	l = logging.With(logging.WithDeliveryID(r.Context(), ev.EventID), s.log)

	dedupKey := "pp:" + ev.EventID
	if ev.EventID != "" && s.deps.Deduper != nil {
		first, err := s.deps.Deduper.MarkFirst(r.Context(), dedupKey)
		if err != nil {
			l.Warn().Err(err).Msg("dedup unavailable; relying on state machine idempotency")
		} else if !first {
			metrics.IncWebhookEvent(sourcePayPal, kind, "duplicate")
			ack(w)
			return
		}
	}

	res, err := s.deps.Reconciler.ApplyLifecycle(r.Context(), ev)
	if err != nil {
		if s.deps.Deduper != nil && ev.EventID != "" {
			_ = s.deps.Deduper.Forget(context.WithoutCancel(r.Context()), dedupKey)
		}
		metrics.IncWebhookEvent(sourcePayPal, kind, "error")
		if res == nil {
			l.Error().Err(err).Msg("billing event failed before owner lookup")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		l.Error().Err(err).Str("outcome", string(res.Outcome)).Msg("billing event failed for known user")
		ack(w)
		return
	}
	metrics.IncWebhookEvent(sourcePayPal, kind, "processed")
	l.Info().Str("outcome", string(res.Outcome)).Str("from", string(res.From)).Str("to", string(res.To)).Msg("billing event applied")
	ack(w)
}

func (s *Server) handleRedirect(outcome model.RedirectOutcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := logging.With(r.Context(), s.log)
		q := r.URL.Query()

		phone, err := s.deps.Tokens.Verify(q.Get("rt"))
		if err != nil {
			metrics.IncWebhookEvent(sourceRedirect, string(outcome), "rejected")
			l.Warn().Err(err).Msg("redirect token rejected")
			s.renderPage(w, r, http.StatusOK, pageInvalidLink)
			return
		}
		ev, err := usecase.NormalizeRedirect(outcome, phone, q.Get("subscription_id"))
		if err != nil {
			metrics.IncWebhookEvent(sourceRedirect, string(outcome), "malformed")
			s.renderPage(w, r, http.StatusOK, pageInvalidLink)
			return
		}

		res, err := s.deps.Reconciler.ConfirmRedirect(r.Context(), ev)
		switch {
		case err == nil && outcome == model.RedirectCancelled:
			metrics.IncWebhookEvent(sourceRedirect, string(outcome), "processed")
			s.renderPage(w, r, http.StatusOK, pageCancelled)
		case err == nil:
			metrics.IncWebhookEvent(sourceRedirect, string(outcome), "processed")
			l.Info().Str("outcome", string(res.Outcome)).Str("to", string(res.To)).Msg("redirect confirmed")
			s.renderPage(w, r, http.StatusOK, pageActivated)
		case errors.Is(err, domain.ErrSubscriptionMismatch), errors.Is(err, domain.ErrInvalidTransition):
			metrics.IncWebhookEvent(sourceRedirect, string(outcome), "ignored")
			l.Warn().Err(err).Msg("redirect does not match current subscription")
			s.renderPage(w, r, http.StatusOK, pageMismatch)
		case errors.Is(err, domain.ErrNotFound):
			metrics.IncWebhookEvent(sourceRedirect, string(outcome), "ignored")
			s.renderPage(w, r, http.StatusOK, pageInvalidLink)
		default:
			metrics.IncWebhookEvent(sourceRedirect, string(outcome), "error")
			l.Error().Err(err).Msg("redirect confirmation failed")
			s.renderPage(w, r, http.StatusOK, pageRetry)
		}
	}
}
