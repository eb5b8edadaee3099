package repository

import (
	"context"
	"time"

	"whatsapp-voice-subscription/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByPhone(ctx context.Context, tx Tx, phone string) (*model.User, error)
	FindBySubscriptionID(ctx context.Context, tx Tx, externalID string) (*model.User, error)
	FindByReferralCode(ctx context.Context, tx Tx, code string) (*model.User, error)
	CountReferrals(ctx context.Context, tx Tx, referrerPhone string) (int, error)
	ResetAllQuotas(ctx context.Context, tx Tx, quota int) (int64, error)
	Stats(ctx context.Context, tx Tx, activeSince time.Time) (*model.Stats, error)
	DeleteAll(ctx context.Context, tx Tx) (int64, error)
}

// -----------------------------
// Subscription history & audit
// -----------------------------

type SubscriptionHistoryRepository interface {
	Save(ctx context.Context, tx Tx, h *model.SubscriptionHistory) error
	ListByPhone(ctx context.Context, tx Tx, phone string) ([]*model.SubscriptionHistory, error)
}

type AuditRepository interface {
	Save(ctx context.Context, tx Tx, a *model.AdminAction) error
	ListRecent(ctx context.Context, tx Tx, limit int) ([]*model.AdminAction, error)
}
