//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/infra/locker"
	"whatsapp-voice-subscription/internal/usecase"
)

type dispatchFixture struct {
	users   *MockUserRepo
	msg     *MockMessaging
	billing *MockBilling
	stt     *MockTranscriber
	audit   *MockAuditRepo
	ops     *MockOps
	limiter *MockRateLimiter
	norm    *usecase.Normalizer
	d       usecase.Dispatcher
}

func newDispatchFixture() *dispatchFixture {
	f := &dispatchFixture{
		users:   NewMockUserRepo(),
		msg:     &MockMessaging{},
		billing: &MockBilling{},
		stt:     &MockTranscriber{},
		audit:   &MockAuditRepo{},
		ops:     &MockOps{},
		limiter: &MockRateLimiter{},
		norm:    usecase.NewNormalizer("!admin"),
	}
	log := newTestLogger()
	tm := NewMockTxManager()
	lk := locker.NewLocal()
	timeouts := usecase.Timeouts{Messaging: time.Second, Billing: time.Second, Transcription: time.Second}

	userUC := usecase.NewUserUseCase(f.users, tm, lk, model.DefaultFreeQuota, log)
	ledger := usecase.NewEntitlementUseCase(f.users, tm, lk, log)
	subs := usecase.NewSubscriptionUseCase(f.users, &MockHistoryRepo{}, tm, lk, f.billing, MockLinker{}, f.msg, usecase.InlineExecutor{}, timeouts, log)
	refs := usecase.NewReferralUseCase(f.users, tm, lk, f.msg, usecase.InlineExecutor{}, timeouts,
		usecase.ReferralConfig{Secret: []byte("s"), DisplayNumber: "1555", Threshold: 5, BonusWindow: 720 * time.Hour}, log)
	admin := usecase.NewAdminUseCase(ledger, f.audit, f.ops, usecase.AdminConfig{Secret: "correct-horse-battery", Phones: []string{"+4900"}}, timeouts, log)

	f.d = usecase.NewDispatcher(userUC, ledger, subs, refs, admin, f.stt, f.msg, f.limiter, timeouts, log)
	return f
}

func (f *dispatchFixture) text(from, body string) model.ConversationMessage {
	return model.ConversationMessage{From: from, Kind: model.MessageText, Text: body, Command: f.norm.ParseCommand(body)}
}

func (f *dispatchFixture) last(phone string) string {
	sent := f.msg.To(phone)
	if len(sent) == 0 {
		return ""
	}
	return sent[len(sent)-1]
}

// Scenario 1
func TestDispatcher_StatusCreatesUser(t *testing.T) {
	f := newDispatchFixture()
	if err := f.d.Handle(context.Background(), f.text("4915112345678", "status")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	u := f.users.Get("4915112345678")
	if u == nil || u.FreeQuota != 10 || u.Mode != model.ModeDefault || u.Subscription.Status != model.SubscriptionNone {
		t.Fatalf("unexpected user %+v", u)
	}
	reply := f.last("4915112345678")
	for _, want := range []string{"Free Summaries: 10", "Mode: default", "Subscription: NONE", "/hello <CODE>"} {
		if !strings.Contains(reply, want) {
			t.Errorf("status reply missing %q:\n%s", want, reply)
		}
	}
	if u.ReferralCode != "" {
		t.Error("status must not assign a referral code")
	}
}

// Scenario 2
func TestDispatcher_MediaWithoutQuota(t *testing.T) {
	f := newDispatchFixture()
	seedUser(f.users, "491", func(u *model.User) { u.FreeQuota = 0; u.TotalUsed = 10 })

	err := f.d.Handle(context.Background(), model.ConversationMessage{
		From: "491", Kind: model.MessageMedia, MediaRef: "M1", Command: model.MediaCommand{MediaRef: "M1"},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !strings.Contains(f.last("491"), "no free summaries") {
		t.Errorf("expected no quota notice, got %q", f.last("491"))
	}
	if f.stt.Calls != 0 {
		t.Error("transcription must not run")
	}
	u := f.users.Get("491")
	if u.FreeQuota != 0 || u.TotalUsed != 10 {
		t.Errorf("counters changed: quota=%d used=%d", u.FreeQuota, u.TotalUsed)
	}
}

func TestDispatcher_MediaTranscribesThenConsumes(t *testing.T) {
	f := newDispatchFixture()
	seedUser(f.users, "491", func(u *model.User) { u.FreeQuota = 1; u.Mode = model.ModeSummary; u.Detail = model.DetailBrief })
	var gotPref model.Preference
	f.stt.TranscribeFunc = func(ctx context.Context, mediaRef string, pref model.Preference) (string, error) {
		gotPref = pref
		if f.users.Get("491").FreeQuota != 1 {
			t.Error("consume must run after transcription")
		}
		return "short summary", nil
	}

	if err := f.d.Handle(context.Background(), model.ConversationMessage{From: "491", Command: model.MediaCommand{MediaRef: "M1"}}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	sent := f.msg.To("491")
	if len(sent) != 2 || !strings.Contains(sent[1], "Voice Message Summary") || !strings.Contains(sent[1], "short summary") {
		t.Errorf("unexpected replies %v", sent)
	}
	if gotPref.Mode != model.ModeSummary || gotPref.Detail != model.DetailBrief {
		t.Errorf("preference not forwarded: %+v", gotPref)
	}
	u := f.users.Get("491")
	if u.FreeQuota != 0 || u.TotalUsed != 1 {
		t.Errorf("expected consume, got quota=%d used=%d", u.FreeQuota, u.TotalUsed)
	}
}

func TestDispatcher_MediaTranscriptionFailure(t *testing.T) {
	f := newDispatchFixture()
	seedUser(f.users, "491", func(u *model.User) { u.FreeQuota = 1 })
	f.stt.TranscribeFunc = func(ctx context.Context, mediaRef string, pref model.Preference) (string, error) {
		return "", errors.New("whisper 500")
	}

	_ = f.d.Handle(context.Background(), model.ConversationMessage{From: "491", Command: model.MediaCommand{MediaRef: "M1"}})
	if !strings.Contains(f.last("491"), "error while processing") {
		t.Errorf("expected transcription error notice, got %q", f.last("491"))
	}
	if f.users.Get("491").FreeQuota != 1 {
		t.Error("failed transcription must not consume")
	}
}

func TestDispatcher_Preferences(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture()
	seedUser(f.users, "491", nil)

	_ = f.d.Handle(ctx, f.text("491", "/detail"))
	if !strings.Contains(f.last("491"), "Please specify a detail level") {
		t.Errorf("expected usage, got %q", f.last("491"))
	}
	_ = f.d.Handle(ctx, f.text("491", "/detail extreme"))
	if !strings.Contains(f.last("491"), "Invalid detail level") {
		t.Errorf("expected invalid notice, got %q", f.last("491"))
	}
	_ = f.d.Handle(ctx, f.text("491", "/mode SUMMARY"))
	if got := f.users.Get("491").Mode; got != model.ModeSummary {
		t.Errorf("expected summary mode, got %s", got)
	}
	if f.users.Get("491").Detail != model.DetailNormal {
		t.Error("invalid detail must leave the preference unchanged")
	}
}

func TestDispatcher_SubscribeAndUnsubscribeReplies(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture()
	seedUser(f.users, "491", nil)

	_ = f.d.Handle(ctx, f.text("491", "subscribe"))
	if !strings.Contains(f.last("491"), "https://paypal.test/approve/") {
		t.Errorf("expected approval link, got %q", f.last("491"))
	}
	_ = f.d.Handle(ctx, f.text("491", "unsubscribe"))
	if !strings.Contains(f.last("491"), "not currently subscribed") {
		t.Errorf("expected not subscribed notice, got %q", f.last("491"))
	}

	seedUser(f.users, "492", func(u *model.User) {
		u.Subscription = model.Subscription{ExternalID: "I-2", Status: model.SubscriptionActive}
	})
	f.billing.CancelFunc = func(ctx context.Context, externalID, reason string) error { return errors.New("down") }
	_ = f.d.Handle(ctx, f.text("492", "unsubscribe"))
	if !strings.Contains(f.last("492"), "error canceling") {
		t.Errorf("expected error notice, got %q", f.last("492"))
	}
	if f.users.Get("492").Subscription.Status != model.SubscriptionActive {
		t.Error("status must stay ACTIVE")
	}
}

func TestDispatcher_HelloAndHelp(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture()
	seedUser(f.users, "491", nil)

	_ = f.d.Handle(ctx, f.text("491", "hello"))
	if f.last("491") != "Please send the code you received: /hello <CODE>" {
		t.Errorf("expected usage, got %q", f.last("491"))
	}
	_ = f.d.Handle(ctx, f.text("491", "hello ZZZZZZZZ"))
	if !strings.Contains(f.last("491"), "not valid") {
		t.Errorf("expected invalid code notice, got %q", f.last("491"))
	}
	_ = f.d.Handle(ctx, f.text("491", "what can you do?"))
	if !strings.HasPrefix(f.last("491"), "Please send a voice message") {
		t.Errorf("expected help, got %q", f.last("491"))
	}
	if !strings.Contains(f.last("491"), "/hello <CODE>") {
		t.Errorf("help must list the referral redeem command:\n%s", f.last("491"))
	}
}

func TestDispatcher_RateLimited(t *testing.T) {
	f := newDispatchFixture()
	f.limiter.AllowFunc = func(ctx context.Context, key string) (bool, error) { return false, nil }

	if err := f.d.Handle(context.Background(), f.text("491", "status")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if f.users.Get("491") != nil || len(f.msg.Sent) != 0 {
		t.Error("rate limited message must be dropped silently")
	}
}

func TestDispatcher_ReplyFailureDoesNotPanic(t *testing.T) {
	f := newDispatchFixture()
	f.msg.SendFunc = func(ctx context.Context, to, text string, ch model.ChannelContext) error {
		return errors.New("graph api down")
	}
	if err := f.d.Handle(context.Background(), f.text("491", "status")); err != nil {
		t.Fatalf("send failures are logged, got %v", err)
	}
}
