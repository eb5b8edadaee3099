//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	"whatsapp-voice-subscription/internal/usecase"
)

func TestStatsUseCase(t *testing.T) {
	ctx := context.Background()
	testLogger := newTestLogger()

	t.Run("Totals should aggregate users and fill every status", func(t *testing.T) {
		repo := NewMockUserRepo()
		seedUser(repo, "a", func(u *model.User) {
			u.TotalUsed = 4
			u.LastInteractionAt = time.Now()
			u.Subscription = model.Subscription{ExternalID: "I-1", Status: model.SubscriptionActive}
		})
		seedUser(repo, "b", func(u *model.User) { u.TotalUsed = 1; u.ReferredBy = "a" })

		uc := usecase.NewStatsUseCase(repo, &MockHistoryRepo{}, &MockAuditRepo{}, testLogger)
		st, err := uc.Totals(ctx)
		if err != nil {
			t.Fatalf("expected no error, but got %v", err)
		}
		if st.Users != 2 || st.TotalUsed != 5 || st.ReferralEdges != 1 || st.ActiveSince24h != 2 {
			t.Errorf("unexpected stats %+v", st)
		}
		if len(st.SubscriptionsByStatus) != len(model.AllSubscriptionStatuses) {
			t.Errorf("expected every status present, got %v", st.SubscriptionsByStatus)
		}
		if st.SubscriptionsByStatus[model.SubscriptionActive] != 1 || st.SubscriptionsByStatus[model.SubscriptionExpired] != 0 {
			t.Errorf("unexpected status counts %v", st.SubscriptionsByStatus)
		}
	})

	t.Run("Totals should propagate repository errors", func(t *testing.T) {
		repo := NewMockUserRepo()
		expected := errors.New("db down")
		repo.StatsFunc = func(ctx context.Context, tx repository.Tx, activeSince time.Time) (*model.Stats, error) {
			return nil, expected
		}
		uc := usecase.NewStatsUseCase(repo, &MockHistoryRepo{}, &MockAuditRepo{}, testLogger)
		if _, err := uc.Totals(ctx); !errors.Is(err, expected) {
			t.Errorf("expected %v, got %v", expected, err)
		}
	})

	t.Run("RecentAdminActions should clamp the limit", func(t *testing.T) {
		audit := &MockAuditRepo{}
		for i := 0; i < 60; i++ {
			_ = audit.Save(ctx, nil, model.NewAdminAction("api", "reset", "", time.Now()))
		}
		uc := usecase.NewStatsUseCase(NewMockUserRepo(), &MockHistoryRepo{}, audit, testLogger)
		got, err := uc.RecentAdminActions(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 50 {
			t.Errorf("expected default limit 50, got %d", len(got))
		}
	})
}
