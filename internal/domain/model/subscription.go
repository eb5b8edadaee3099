package model

import (
	"strings"
	"time"

	"whatsapp-voice-subscription/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "NONE"
	SubscriptionPending   SubscriptionStatus = "PENDING"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionSuspended SubscriptionStatus = "SUSPENDED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

// AllSubscriptionStatuses is used for gauges and stats.
var AllSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionNone,
	SubscriptionPending,
	SubscriptionActive,
	SubscriptionCancelled,
	SubscriptionSuspended,
	SubscriptionExpired,
}

// LifecycleEvent is a billing-provider push event, stripped of its vendor prefix.
type LifecycleEvent string

const (
	LifecycleActivated LifecycleEvent = "ACTIVATED"
	LifecycleCancelled LifecycleEvent = "CANCELLED"
	LifecycleSuspended LifecycleEvent = "SUSPENDED"
	LifecycleExpired   LifecycleEvent = "EXPIRED"
	LifecycleUnknown   LifecycleEvent = "UNKNOWN"
)

const billingEventPrefix = "BILLING.SUBSCRIPTION."

// ParseLifecycleEvent maps e.g. "BILLING.SUBSCRIPTION.ACTIVATED" to LifecycleActivated.
func ParseLifecycleEvent(eventType string) LifecycleEvent {
	t := strings.ToUpper(strings.TrimSpace(eventType))
	if !strings.HasPrefix(t, billingEventPrefix) {
		return LifecycleUnknown
	}
	switch ev := LifecycleEvent(strings.TrimPrefix(t, billingEventPrefix)); ev {
	case LifecycleActivated, LifecycleCancelled, LifecycleSuspended, LifecycleExpired:
		return ev
	}
	return LifecycleUnknown
}

// Outcome is the result of feeding an event to the state machine.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoOp    Outcome = "noop"
	OutcomeStale   Outcome = "stale"
)

// Subscription is the current billing record of a user.
type Subscription struct {
	ExternalID    string
	Status        SubscriptionStatus
	ApprovalURL   string
	CreatedAt     *time.Time
	NextBillingAt *time.Time
	LastEventAt   *time.Time // newest billing event applied or acknowledged
	UpdatedAt     *time.Time
}

func (s Subscription) IsZero() bool {
	return s.Status == "" || s.Status == SubscriptionNone
}

// CanStartNew reports whether a subscribe request must allocate a new
// external subscription.
func (s Subscription) CanStartNew() bool {
	switch s.Status {
	case "", SubscriptionNone, SubscriptionCancelled, SubscriptionExpired:
		return true
	}
	return false
}

// CheckSubscribe validates a subscribe request against the current state.
// A nil error with reuse=true means the pending approval link should be resent.
// A PENDING record never allocates a second external id.
func (s Subscription) CheckSubscribe() (reuse bool, err error) {
	switch {
	case s.Status == SubscriptionActive:
		return false, domain.ErrAlreadySubscribed
	case s.Status == SubscriptionPending && s.ApprovalURL != "":
		return true, nil
	case s.CanStartNew():
		return false, nil
	}
	return false, domain.ErrInvalidTransition
}

// BeginPending starts a fresh PENDING cycle with a newly allocated external id.
// Both the id and the approval link are required.
func (s Subscription) BeginPending(externalID, approvalURL string, now time.Time) (Subscription, error) {
	if externalID == "" || approvalURL == "" {
		return s, domain.ErrInvalidArgument
	}
	if _, err := s.CheckSubscribe(); err != nil {
		return s, err
	}
	t := now
	return Subscription{
		ExternalID:  externalID,
		Status:      SubscriptionPending,
		ApprovalURL: approvalURL,
		CreatedAt:   &t,
		UpdatedAt:   &t,
	}, nil
}

// Confirm applies a successful browser redirect for externalID.
func (s Subscription) Confirm(externalID string, now time.Time) (Subscription, Outcome, error) {
	if externalID == "" || externalID != s.ExternalID {
		return s, OutcomeNoOp, domain.ErrSubscriptionMismatch
	}
	switch s.Status {
	case SubscriptionActive:
		return s, OutcomeNoOp, nil
	case SubscriptionPending:
		s.Status = SubscriptionActive
		s.ApprovalURL = ""
		s.UpdatedAt = &now
		return s, OutcomeApplied, nil
	}
	return s, OutcomeNoOp, domain.ErrSubscriptionMismatch
}

// Apply feeds a billing lifecycle event into the state machine.
//
// Repeats of the current state are a NoOp. Events older than the newest one
// already seen are Stale. A transition not allowed from the current state
// returns ErrInvalidTransition and leaves the record unchanged.
func (s Subscription) Apply(ev LifecycleEvent, occurredAt, now time.Time) (Subscription, Outcome, error) {
	if s.LastEventAt != nil && !occurredAt.IsZero() && occurredAt.Before(*s.LastEventAt) {
		return s, OutcomeStale, nil
	}

	var target SubscriptionStatus
	switch ev {
	case LifecycleActivated:
		target = SubscriptionActive
		if s.Status != SubscriptionPending && s.Status != SubscriptionSuspended && s.Status != SubscriptionActive {
			return s, OutcomeNoOp, domain.ErrInvalidTransition
		}
	case LifecycleSuspended:
		target = SubscriptionSuspended
		if s.Status != SubscriptionActive && s.Status != SubscriptionSuspended {
			return s, OutcomeNoOp, domain.ErrInvalidTransition
		}
	case LifecycleCancelled:
		target = SubscriptionCancelled
		if s.IsZero() {
			return s, OutcomeNoOp, domain.ErrInvalidTransition
		}
	case LifecycleExpired:
		target = SubscriptionExpired
		if s.IsZero() {
			return s, OutcomeNoOp, domain.ErrInvalidTransition
		}
	default:
		return s, OutcomeNoOp, domain.ErrInvalidArgument
	}

	if !occurredAt.IsZero() {
		t := occurredAt
		s.LastEventAt = &t
	}
	if s.Status == target {
		return s, OutcomeNoOp, nil
	}
	s.Status = target
	s.ApprovalURL = ""
	s.UpdatedAt = &now
	return s, OutcomeApplied, nil
}

// Cancel is the user-initiated unsubscribe. Only ACTIVE may be cancelled.
func (s Subscription) Cancel(now time.Time) (Subscription, error) {
	if s.Status != SubscriptionActive {
		return s, domain.ErrNotSubscribed
	}
	s.Status = SubscriptionCancelled
	s.NextBillingAt = nil
	s.UpdatedAt = &now
	return s, nil
}

// TransitionResult describes what a reconciler step did to a user's subscription.
type TransitionResult struct {
	Phone      string
	ExternalID string
	Event      LifecycleEvent
	From       SubscriptionStatus
	To         SubscriptionStatus
	Outcome    Outcome
}

// Changed reports whether the status moved.
func (r TransitionResult) Changed() bool { return r.Outcome == OutcomeApplied && r.From != r.To }
