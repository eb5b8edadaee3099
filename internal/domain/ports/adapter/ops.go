package adapter

import "context"

// OpsNotifier delivers operator alerts (admin actions, failures) out of band.
type OpsNotifier interface {
	Notify(ctx context.Context, text string) error
}
