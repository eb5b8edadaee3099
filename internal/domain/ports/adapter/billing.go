package adapter

import (
	"context"
	"net/http"
)

// RedirectLinks are the browser return URLs handed to the billing provider.
type RedirectLinks struct {
	SuccessURL string
	CancelURL  string
}

// BillingSubscription is a subscription freshly allocated by the provider.
type BillingSubscription struct {
	ExternalID  string
	ApprovalURL string
}

// BillingAdapter is the PayPal subscriptions port.
type BillingAdapter interface {
	CreateSubscription(ctx context.Context, phone string, links RedirectLinks) (*BillingSubscription, error)
	CancelSubscription(ctx context.Context, externalID, reason string) error
	VerifySignature(ctx context.Context, headers http.Header, body []byte) (bool, error)
}
