//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
)

// =============================
// Repositories
// =============================

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu      sync.Mutex
	byPhone map[string]*model.User
	Saves   int

	SaveFunc                 func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByPhoneFunc          func(ctx context.Context, tx repository.Tx, phone string) (*model.User, error)
	FindBySubscriptionIDFunc func(ctx context.Context, tx repository.Tx, externalID string) (*model.User, error)
	StatsFunc                func(ctx context.Context, tx repository.Tx, activeSince time.Time) (*model.Stats, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byPhone: map[string]*model.User{}}
}

// Seed stores u directly, bypassing SaveFunc.
func (r *MockUserRepo) Seed(u *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.byPhone[cp.Phone] = &cp
}

// Get returns a copy of the stored user or nil.
func (r *MockUserRepo) Get(phone string) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byPhone[phone]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ReferralCode != "" {
		for p, other := range r.byPhone {
			if p != u.Phone && other.ReferralCode == u.ReferralCode {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.byPhone[cp.Phone] = &cp
	r.Saves++
	return nil
}

func (r *MockUserRepo) FindByPhone(ctx context.Context, tx repository.Tx, phone string) (*model.User, error) {
	if r.FindByPhoneFunc != nil {
		return r.FindByPhoneFunc(ctx, tx, phone)
	}
	if u := r.Get(phone); u != nil {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) FindBySubscriptionID(ctx context.Context, tx repository.Tx, externalID string) (*model.User, error) {
	if r.FindBySubscriptionIDFunc != nil {
		return r.FindBySubscriptionIDFunc(ctx, tx, externalID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byPhone {
		if u.Subscription.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) FindByReferralCode(ctx context.Context, tx repository.Tx, code string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byPhone {
		if u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) CountReferrals(ctx context.Context, tx repository.Tx, referrerPhone string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.byPhone {
		if u.ReferredBy == referrerPhone {
			n++
		}
	}
	return n, nil
}

func (r *MockUserRepo) ResetAllQuotas(ctx context.Context, tx repository.Tx, quota int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byPhone {
		u.FreeQuota = quota
	}
	return int64(len(r.byPhone)), nil
}

func (r *MockUserRepo) Stats(ctx context.Context, tx repository.Tx, activeSince time.Time) (*model.Stats, error) {
	if r.StatsFunc != nil {
		return r.StatsFunc(ctx, tx, activeSince)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &model.Stats{SubscriptionsByStatus: map[model.SubscriptionStatus]int{}}
	for _, u := range r.byPhone {
		st.Users++
		st.TotalUsed += u.TotalUsed
		if u.LastInteractionAt.After(activeSince) {
			st.ActiveSince24h++
		}
		if u.ReferredBy != "" {
			st.ReferralEdges++
		}
		st.SubscriptionsByStatus[u.Subscription.Status]++
	}
	return st, nil
}

func (r *MockUserRepo) DeleteAll(ctx context.Context, tx repository.Tx) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.byPhone))
	r.byPhone = map[string]*model.User{}
	return n, nil
}

// ---- Mock SubscriptionHistoryRepository ----

type MockHistoryRepo struct {
	mu    sync.Mutex
	Items []*model.SubscriptionHistory
}

var _ repository.SubscriptionHistoryRepository = (*MockHistoryRepo)(nil)

func (r *MockHistoryRepo) Save(ctx context.Context, tx repository.Tx, h *model.SubscriptionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *h
	r.Items = append(r.Items, &cp)
	return nil
}

func (r *MockHistoryRepo) ListByPhone(ctx context.Context, tx repository.Tx, phone string) ([]*model.SubscriptionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SubscriptionHistory
	for _, h := range r.Items {
		if h.Phone == phone {
			out = append(out, h)
		}
	}
	return out, nil
}

// ---- Mock AuditRepository ----

type MockAuditRepo struct {
	mu      sync.Mutex
	Actions []*model.AdminAction
}

var _ repository.AuditRepository = (*MockAuditRepo)(nil)

func (r *MockAuditRepo) Save(ctx context.Context, tx repository.Tx, a *model.AdminAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.Actions = append(r.Actions, &cp)
	return nil
}

func (r *MockAuditRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.AdminAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*model.AdminAction(nil), r.Actions...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- Mock UserLocker ----

type MockLocker struct {
	LockFunc    func(ctx context.Context, phone string) (context.Context, error)
	ReleaseErr  error
	mu          sync.Mutex
	deadlines   []time.Time
	releaseRuns int
}

var _ repository.UserLocker = (*MockLocker)(nil)

// Lock records the deadline it was called with and succeeds unless LockFunc
// says otherwise.
func (m *MockLocker) Lock(ctx context.Context, phone string) (context.Context, func() error, error) {
	dl, _ := ctx.Deadline()
	m.mu.Lock()
	m.deadlines = append(m.deadlines, dl)
	m.mu.Unlock()
	held := ctx
	if m.LockFunc != nil {
		var err error
		if held, err = m.LockFunc(ctx, phone); err != nil {
			return nil, nil, err
		}
	}
	return held, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.releaseRuns++
		return m.ReleaseErr
	}, nil
}

func (m *MockLocker) Deadlines() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.deadlines...)
}

func (m *MockLocker) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseRuns
}

// ---- Mock RateLimiter ----

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string) (bool, error)
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key)
	}
	return true, nil
}

// =============================
// Adapters
// =============================

// ---- Mock MessagingAdapter ----

type SentMessage struct {
	To   string
	Text string
}

type MockMessaging struct {
	mu   sync.Mutex
	Sent []SentMessage

	SendFunc func(ctx context.Context, to, text string, ch model.ChannelContext) error
}

var _ adapter.MessagingAdapter = (*MockMessaging)(nil)

func (m *MockMessaging) VerifyChallenge(mode, token, challenge string) (string, error) {
	if mode == "subscribe" && token == "verify" {
		return challenge, nil
	}
	return "", domain.ErrInvalidVerification
}

func (m *MockMessaging) Send(ctx context.Context, to, text string, ch model.ChannelContext) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, to, text, ch); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{To: to, Text: text})
	return nil
}

// To returns the texts sent to phone, in order.
func (m *MockMessaging) To(phone string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.Sent {
		if s.To == phone {
			out = append(out, s.Text)
		}
	}
	return out
}

// ---- Mock BillingAdapter ----

type MockBilling struct {
	mu       sync.Mutex
	Created  int
	Canceled []string

	CreateFunc func(ctx context.Context, phone string, links adapter.RedirectLinks) (*adapter.BillingSubscription, error)
	CancelFunc func(ctx context.Context, externalID, reason string) error
}

var _ adapter.BillingAdapter = (*MockBilling)(nil)

func (m *MockBilling) CreateSubscription(ctx context.Context, phone string, links adapter.RedirectLinks) (*adapter.BillingSubscription, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, phone, links)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Created++
	id := "I-" + uuid.NewString()[:8]
	return &adapter.BillingSubscription{ExternalID: id, ApprovalURL: "https://paypal.test/approve/" + id}, nil
}

func (m *MockBilling) CancelSubscription(ctx context.Context, externalID, reason string) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, externalID, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Canceled = append(m.Canceled, externalID)
	return nil
}

func (m *MockBilling) VerifySignature(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	return headers.Get("Paypal-Transmission-Sig") == "valid", nil
}

// ---- Mock TranscriptionAdapter ----

type MockTranscriber struct {
	mu    sync.Mutex
	Calls int

	TranscribeFunc func(ctx context.Context, mediaRef string, pref model.Preference) (string, error)
}

var _ adapter.TranscriptionAdapter = (*MockTranscriber)(nil)

func (m *MockTranscriber) Transcribe(ctx context.Context, mediaRef string, pref model.Preference) (string, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, mediaRef, pref)
	}
	return "transcript of " + mediaRef, nil
}

// ---- Mock OpsNotifier ----

type MockOps struct {
	mu    sync.Mutex
	Texts []string
}

var _ adapter.OpsNotifier = (*MockOps)(nil)

func (m *MockOps) Notify(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, text)
	return nil
}

// ---- Mock RedirectLinker ----

type MockLinker struct{}

func (MockLinker) Links(phone string) (adapter.RedirectLinks, error) {
	return adapter.RedirectLinks{
		SuccessURL: "https://bot.test/paypal/success?rt=token-" + phone,
		CancelURL:  "https://bot.test/paypal/cancel?rt=token-" + phone,
	}, nil
}

// =============================
// Helpers
// =============================

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func seedUser(repo *MockUserRepo, phone string, mutate func(u *model.User)) *model.User {
	u, _ := model.NewUser(phone, "", model.DefaultFreeQuota, time.Now().Add(-time.Hour))
	if mutate != nil {
		mutate(u)
	}
	repo.Seed(u)
	return u
}
