package model

import (
	"strings"
	"time"

	"whatsapp-voice-subscription/internal/domain"

	"github.com/google/uuid"
)

// DefaultFreeQuota is the number of free summaries a new user starts with.
const DefaultFreeQuota = 10

// ResponseMode selects what the bot sends back for a voice message.
type ResponseMode string

const (
	ModeDefault ResponseMode = "default" // full transcription
	ModeSummary ResponseMode = "summary"
)

// DetailLevel controls how long a summary is.
type DetailLevel string

const (
	DetailBrief    DetailLevel = "brief"
	DetailNormal   DetailLevel = "normal"
	DetailDetailed DetailLevel = "detailed"
)

func ParseResponseMode(s string) (ResponseMode, error) {
	switch m := ResponseMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDefault, ModeSummary:
		return m, nil
	}
	return "", domain.ErrInvalidArgument
}

func ParseDetailLevel(s string) (DetailLevel, error) {
	switch d := DetailLevel(strings.ToLower(strings.TrimSpace(s))); d {
	case DetailBrief, DetailNormal, DetailDetailed:
		return d, nil
	}
	return "", domain.ErrInvalidArgument
}

// Preference is what the transcription collaborator needs to know about a user.
type Preference struct {
	Mode   ResponseMode
	Detail DetailLevel
}

// User is keyed by the WhatsApp phone number. The subscription is embedded:
// a user owns at most one current subscription record.
type User struct {
	ID                string
	Phone             string
	Name              string
	FirstSeenAt       time.Time
	LastInteractionAt time.Time
	MessageCount      int64

	FreeQuota int
	TotalUsed int64
	Mode      ResponseMode
	Detail    DetailLevel

	Subscription Subscription

	ReferralCode          string
	ReferredBy            string // phone of the referrer, write-once
	ReferralRewardedCount int    // edge count already rewarded
	BonusUntil            *time.Time
}

func NewUser(phone, name string, freeQuota int, now time.Time) (*User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, domain.ErrInvalidArgument
	}
	if freeQuota < 0 {
		freeQuota = 0
	}
	return &User{
		ID:                uuid.NewString(),
		Phone:             phone,
		Name:              name,
		FirstSeenAt:       now,
		LastInteractionAt: now,
		FreeQuota:         freeQuota,
		Mode:              ModeDefault,
		Detail:            DetailNormal,
		Subscription:      Subscription{Status: SubscriptionNone},
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.Phone == "" }

// Touch records an inbound interaction.
func (u User) Touch(name string, now time.Time) User {
	u.LastInteractionAt = now
	u.MessageCount++
	if name != "" {
		u.Name = name
	}
	return u
}

func (u User) Preference() Preference {
	return Preference{Mode: u.Mode, Detail: u.Detail}
}

// HasBonus reports whether a referral bonus window is open at now.
func (u User) HasBonus(now time.Time) bool {
	return u.BonusUntil != nil && now.Before(*u.BonusUntil)
}

// IsPremium is true when metered actions are not charged against the quota.
func (u User) IsPremium(now time.Time) bool {
	return u.Subscription.Status == SubscriptionActive || u.HasBonus(now)
}

func (u User) IsEntitled(now time.Time) bool {
	return u.IsPremium(now) || u.FreeQuota > 0
}

// EntitlementSource tells which entitlement paid for a consumed unit.
type EntitlementSource string

const (
	SourceSubscription EntitlementSource = "subscription"
	SourceBonus        EntitlementSource = "bonus"
	SourceQuota        EntitlementSource = "quota"
)

type ConsumeResult struct {
	Remaining int
	TotalUsed int64
	Source    EntitlementSource
}

// Consume charges one metered action. The returned user carries both counter
// updates, so persisting it is a single transition.
func (u User) Consume(now time.Time) (User, ConsumeResult, error) {
	var src EntitlementSource
	switch {
	case u.Subscription.Status == SubscriptionActive:
		src = SourceSubscription
	case u.HasBonus(now):
		src = SourceBonus
	case u.FreeQuota > 0:
		src = SourceQuota
		u.FreeQuota--
	default:
		return u, ConsumeResult{Remaining: u.FreeQuota, TotalUsed: u.TotalUsed}, domain.ErrNoQuota
	}
	u.TotalUsed++
	return u, ConsumeResult{Remaining: u.FreeQuota, TotalUsed: u.TotalUsed, Source: src}, nil
}

// Grant adds count to the free quota. Negative counts never push it below zero.
func (u User) Grant(count int) User {
	u.FreeQuota += count
	if u.FreeQuota < 0 {
		u.FreeQuota = 0
	}
	return u
}

func (u User) WithPreference(mode ResponseMode, detail DetailLevel) User {
	if mode != "" {
		u.Mode = mode
	}
	if detail != "" {
		u.Detail = detail
	}
	return u
}
