package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// AdminAction is one privileged operation, recorded whether or not it was allowed.
type AdminAction struct {
	ID        string
	Actor     string // phone or "api"
	Action    string
	Detail    string
	Allowed   bool
	Affected  int64
	CreatedAt time.Time
}

func NewAdminAction(actor, action, detail string, now time.Time) *AdminAction {
	return &AdminAction{
		ID:        ulid.Make().String(),
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		CreatedAt: now,
	}
}

// SubscriptionHistory keeps a superseded subscription record.
type SubscriptionHistory struct {
	ID         string
	Phone      string
	ExternalID string
	Status     SubscriptionStatus
	CreatedAt  *time.Time
	ArchivedAt time.Time
}

func NewSubscriptionHistory(phone string, s Subscription, now time.Time) *SubscriptionHistory {
	return &SubscriptionHistory{
		ID:         ulid.Make().String(),
		Phone:      phone,
		ExternalID: s.ExternalID,
		Status:     s.Status,
		CreatedAt:  s.CreatedAt,
		ArchivedAt: now,
	}
}

// Stats is the operator overview.
type Stats struct {
	Users                 int
	ActiveSince24h        int
	TotalUsed             int64
	ReferralEdges         int
	SubscriptionsByStatus map[SubscriptionStatus]int
}
