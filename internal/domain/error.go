package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Inbound events
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrInvalidVerification  = errors.New("invalid webhook verification")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrInvalidRedirectToken = errors.New("invalid redirect token")

	// Entitlement and referrals
	ErrNoQuota             = errors.New("no free quota remaining")
	ErrAlreadyReferred     = errors.New("user already has a referrer")
	ErrInvalidReferralCode = errors.New("invalid referral code")
	ErrSelfReferral        = errors.New("cannot redeem own referral code")

	// Subscription state machine
	ErrInvalidTransition    = errors.New("invalid subscription transition")
	ErrAlreadySubscribed    = fmt.Errorf("%w: already subscribed", ErrInvalidTransition)
	ErrNotSubscribed        = fmt.Errorf("%w: not currently subscribed", ErrInvalidTransition)
	ErrSubscriptionMismatch = fmt.Errorf("%w: subscription does not match pending record", ErrInvalidTransition)

	// Collaborators and admin
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrUnauthorized            = errors.New("unauthorized")
)
