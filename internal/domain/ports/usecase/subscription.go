package usecase

import (
	"context"

	"whatsapp-voice-subscription/internal/domain/model"
)

// SubscriptionReconciler is the part of the subscription use case driven by
// the billing webhook and the browser redirect endpoints.
type SubscriptionReconciler interface {
	ApplyLifecycle(ctx context.Context, ev model.BillingLifecycle) (*model.TransitionResult, error)
	ConfirmRedirect(ctx context.Context, ev model.RedirectConfirmation) (*model.TransitionResult, error)
	NotifyRedirectCancelled(ctx context.Context, phone string) error
}
