package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/infra/worker"
	"whatsapp-voice-subscription/internal/usecase"
)

type fakeVerifier struct{}

func (fakeVerifier) VerifyChallenge(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || token != "good" {
		return "", errors.New("bad token")
	}
	return challenge, nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []model.ConversationMessage
}

func (d *fakeDispatcher) Handle(_ context.Context, msg model.ConversationMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

type fakeSignatures struct {
	ok  bool
	err error
}

func (f fakeSignatures) VerifySignature(context.Context, http.Header, []byte) (bool, error) {
	return f.ok, f.err
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper { return &fakeDeduper{seen: map[string]bool{}} }

func (d *fakeDeduper) MarkFirst(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *fakeDeduper) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

type fakeReconciler struct {
	res      *model.TransitionResult
	err      error
	applied  int
	redirect []model.RedirectConfirmation
}

func (f *fakeReconciler) ApplyLifecycle(context.Context, model.BillingLifecycle) (*model.TransitionResult, error) {
	f.applied++
	return f.res, f.err
}

func (f *fakeReconciler) ConfirmRedirect(_ context.Context, ev model.RedirectConfirmation) (*model.TransitionResult, error) {
	f.redirect = append(f.redirect, ev)
	return f.res, f.err
}

func (f *fakeReconciler) NotifyRedirectCancelled(context.Context, string) error { return nil }

type fakeTokens struct{}

func (fakeTokens) Verify(token string) (string, error) {
	if token != "valid" {
		return "", errors.New("bad token")
	}
	return "15551234567", nil
}

type fakeAdmin struct {
	quota int
	grant int
}

func (f *fakeAdmin) HandleCommand(context.Context, string, model.AdminCommand) (string, error) {
	return "", nil
}

func (f *fakeAdmin) ResetAllQuotas(_ context.Context, _, _ string, quota int) (int64, error) {
	f.quota = quota
	return 3, nil
}

func (f *fakeAdmin) GrantQuota(_ context.Context, _, _, phone string, count int) (int, error) {
	if phone == "missing" {
		return 0, domain.ErrNotFound
	}
	f.grant = count
	return count + 1, nil
}

type fakeStats struct{}

func (fakeStats) Totals(context.Context) (*model.Stats, error) {
	return &model.Stats{Users: 2, SubscriptionsByStatus: map[model.SubscriptionStatus]int{model.SubscriptionActive: 1}}, nil
}

func (fakeStats) History(context.Context, string) ([]*model.SubscriptionHistory, error) {
	return nil, nil
}

func (fakeStats) RecentAdminActions(context.Context, int) ([]*model.AdminAction, error) {
	return nil, nil
}

type harness struct {
	srv        http.Handler
	dispatcher *fakeDispatcher
	reconciler *fakeReconciler
	admin      *fakeAdmin
}

func newHarness(t *testing.T, sigs fakeSignatures) *harness {
	t.Helper()
	logger := zerolog.Nop()
	h := &harness{dispatcher: &fakeDispatcher{}, reconciler: &fakeReconciler{}, admin: &fakeAdmin{}}
	deps := Deps{
		Verifier:    fakeVerifier{},
		Normalizer:  usecase.NewNormalizer("!admin"),
		Dispatcher:  h.dispatcher,
		Executor:    usecase.InlineExecutor{},
		Signatures:  sigs,
		Deduper:     newFakeDeduper(),
		Reconciler:  h.reconciler,
		Tokens:      fakeTokens{},
		Admin:       h.admin,
		Stats:       fakeStats{},
		AdminAPIKey: "secret-key",
		BrandName:   "Voice Bot",
	}
	h.srv = NewServer(deps, Options{}, &logger).Router()
	return h
}

func (h *harness) do(method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

const textDelivery = `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{
"metadata":{"phone_number_id":"pn1"},
"contacts":[{"wa_id":"15551234567","profile":{"name":"Ana"}}],
"messages":[{"id":"wamid.1","from":"15551234567","timestamp":"1700000000","type":"text","text":{"body":"status"}}]}}]}]}`

func TestWhatsAppVerify(t *testing.T) {
	h := newHarness(t, fakeSignatures{ok: true})

	rec := h.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=good&hub.challenge=abc", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())

	rec = h.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWhatsAppEvent_AcksAndDeduplicates(t *testing.T) {
	h := newHarness(t, fakeSignatures{ok: true})

	rec := h.do(http.MethodPost, "/webhook", textDelivery, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, h.dispatcher.count())
	assert.Equal(t, "15551234567", h.dispatcher.msgs[0].From)

	rec = h.do(http.MethodPost, "/webhook", textDelivery, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.dispatcher.count(), "redelivery must not dispatch twice")
}

type fullExecutor struct{}

func (fullExecutor) Submit(func(ctx context.Context) error) error { return worker.ErrQueueFull }

type blockingDispatcher struct {
	started chan context.Context
	release chan struct{}
}

func (d *blockingDispatcher) Handle(ctx context.Context, _ model.ConversationMessage) error {
	d.started <- ctx
	select {
	case <-d.release:
	case <-ctx.Done():
	}
	return nil
}

func TestWhatsAppEvent_FullQueueAcksBeforeDispatch(t *testing.T) {
	logger := zerolog.Nop()
	d := &blockingDispatcher{started: make(chan context.Context, 2), release: make(chan struct{})}
	defer close(d.release)
	srv := NewServer(Deps{
		Verifier:   fakeVerifier{},
		Normalizer: usecase.NewNormalizer("!admin"),
		Dispatcher: d,
		Executor:   fullExecutor{},
		Deduper:    newFakeDeduper(),
	}, Options{OverflowTimeout: time.Minute, MaxOverflow: 1}, &logger).Router()

	post := func(body string) <-chan int {
		codes := make(chan int, 1)
		go func() {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
			codes <- rec.Code
		}()
		return codes
	}

	select {
	case code := <-post(textDelivery):
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(time.Second):
		t.Fatal("acknowledgement waited for the dispatch")
	}

	var ctx context.Context
	select {
	case ctx = <-d.started:
	case <-time.After(time.Second):
		t.Fatal("overflow dispatch never started")
	}
	dl, ok := ctx.Deadline()
	require.True(t, ok, "overflow dispatch must run under a deadline")
	assert.WithinDuration(t, time.Now().Add(time.Minute), dl, 5*time.Second)

	// the single overflow slot is busy, so a second delivery is acknowledged and dropped
	second := strings.Replace(textDelivery, "wamid.1", "wamid.2", 1)
	select {
	case code := <-post(second):
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(time.Second):
		t.Fatal("acknowledgement waited for the dispatch")
	}
	select {
	case <-d.started:
		t.Fatal("overflow limit exceeded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWhatsAppEvent_MalformedIsAcknowledged(t *testing.T) {
	h := newHarness(t, fakeSignatures{ok: true})

	rec := h.do(http.MethodPost, "/webhook", "{not json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, h.dispatcher.count())
}

const billingEvent = `{"id":"WH-1","event_type":"BILLING.SUBSCRIPTION.ACTIVATED","create_time":"2024-01-01T00:00:00Z","resource":{"id":"I-SUB1","status":"ACTIVE"}}`

func TestPayPalEvent_BadSignature(t *testing.T) {
	for name, sigs := range map[string]fakeSignatures{
		"rejected":    {ok: false},
		"verify down": {err: domain.ErrCollaboratorUnavailable},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, sigs)
			rec := h.do(http.MethodPost, "/webhooks/paypal", billingEvent, nil)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Zero(t, h.reconciler.applied)
		})
	}
}

func TestPayPalEvent_Outcomes(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		h.reconciler.res = &model.TransitionResult{Outcome: model.OutcomeApplied}
		rec := h.do(http.MethodPost, "/webhooks/paypal", billingEvent, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = h.do(http.MethodPost, "/webhooks/paypal", billingEvent, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, h.reconciler.applied, "duplicate event id must be skipped")
	})

	t.Run("no user context", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		h.reconciler.err = domain.ErrCollaboratorUnavailable
		rec := h.do(http.MethodPost, "/webhooks/paypal", billingEvent, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		// the dedup mark is released so a retry is processed
		h.reconciler.err = nil
		h.reconciler.res = &model.TransitionResult{Outcome: model.OutcomeApplied}
		rec = h.do(http.MethodPost, "/webhooks/paypal", billingEvent, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, h.reconciler.applied)
	})

	t.Run("known user failure", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		h.reconciler.res = &model.TransitionResult{Phone: "15551234567", Outcome: model.OutcomeNoOp}
		h.reconciler.err = domain.ErrCollaboratorUnavailable
		rec := h.do(http.MethodPost, "/webhooks/paypal", billingEvent, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("malformed", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		rec := h.do(http.MethodPost, "/webhooks/paypal", `{"id":"WH-2"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, h.reconciler.applied)
	})
}

func TestRedirect(t *testing.T) {
	t.Run("invalid token", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		rec := h.do(http.MethodGet, "/paypal/success?rt=forged&subscription_id=I-SUB1", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid link")
		assert.Empty(t, h.reconciler.redirect)
	})

	t.Run("success without subscription id", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		rec := h.do(http.MethodGet, "/paypal/success?rt=valid", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid link")
		assert.Empty(t, h.reconciler.redirect)
	})

	t.Run("success", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		h.reconciler.res = &model.TransitionResult{Outcome: model.OutcomeApplied, To: model.SubscriptionActive}
		rec := h.do(http.MethodGet, "/paypal/success?rt=valid&subscription_id=I-SUB1", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Subscription active")
		require.Len(t, h.reconciler.redirect, 1)
		assert.Equal(t, "I-SUB1", h.reconciler.redirect[0].SubscriptionExternalID)
	})

	t.Run("localized", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		h.reconciler.res = &model.TransitionResult{Outcome: model.OutcomeApplied, To: model.SubscriptionActive}
		rec := h.do(http.MethodGet, "/paypal/success?rt=valid&subscription_id=I-SUB1", "", map[string]string{"Accept-Language": "es-ES,es;q=0.9"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Suscripción activa")
		assert.Contains(t, rec.Body.String(), `lang="es"`)
	})

	t.Run("mismatch", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		h.reconciler.err = domain.ErrSubscriptionMismatch
		rec := h.do(http.MethodGet, "/paypal/success?rt=valid&subscription_id=I-OTHER", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Link no longer valid")
	})

	t.Run("cancel", func(t *testing.T) {
		h := newHarness(t, fakeSignatures{ok: true})
		h.reconciler.res = &model.TransitionResult{Outcome: model.OutcomeNoOp}
		rec := h.do(http.MethodGet, "/paypal/cancel?rt=valid", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "not completed")
	})
}

func TestAdminAPI(t *testing.T) {
	h := newHarness(t, fakeSignatures{ok: true})
	auth := map[string]string{"Authorization": "Bearer secret-key", "Content-Type": "application/json"}

	rec := h.do(http.MethodGet, "/api/v1/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/stats", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/stats", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"users":2`)

	rec = h.do(http.MethodPost, "/api/v1/quota/reset", `{"quota":7}`, auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, h.admin.quota)

	rec = h.do(http.MethodPost, "/api/v1/quota/reset", `{"quota":-1}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/users/15551234567/grant", `{"count":4}`, auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, h.admin.grant)

	rec = h.do(http.MethodPost, "/api/v1/users/missing/grant", `{"count":4}`, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/users/15551234567/grant", `{"count":0}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewServer(Deps{Health: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	}}, Options{}, &logger).Router()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}
