package model

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strings"
	"time"
)

const (
	ReferralCodeLength = 8
	ReferralThreshold  = 5
)

var referralEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DeriveReferralCode returns the stable code for phone. The same secret and
// phone always give the same code.
func DeriveReferralCode(secret []byte, phone string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(phone))
	return referralEncoding.EncodeToString(mac.Sum(nil))[:ReferralCodeLength]
}

// NormalizeReferralCode upper-cases code and checks its shape.
func NormalizeReferralCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != ReferralCodeLength {
		return "", false
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z') && !(r >= '2' && r <= '7') {
			return "", false
		}
	}
	return code, true
}

// RewardReferrals grants one bonus window for every multiple of threshold in
// edgeCount that is above the rewarded watermark. It returns the updated user
// and the number of windows granted.
func (u User) RewardReferrals(edgeCount, threshold int, window time.Duration, now time.Time) (User, int) {
	if threshold <= 0 {
		threshold = ReferralThreshold
	}
	due := (edgeCount / threshold) * threshold
	if due <= u.ReferralRewardedCount {
		return u, 0
	}
	grants := (due - u.ReferralRewardedCount) / threshold
	if grants <= 0 {
		u.ReferralRewardedCount = due
		return u, 0
	}
	start := now
	if u.BonusUntil != nil && u.BonusUntil.After(now) {
		start = *u.BonusUntil
	}
	until := start.Add(time.Duration(grants) * window)
	u.BonusUntil = &until
	u.ReferralRewardedCount = due
	return u, grants
}

// ReferralSummary is what the referral and status commands report.
type ReferralSummary struct {
	Code       string
	Link       string
	Count      int
	Threshold  int
	BonusUntil *time.Time
}
