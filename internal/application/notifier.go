package application

import "context"

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// UrgentNotifier is implemented by notifiers that can raise priority for
// alerts and a stopped subscription.
type UrgentNotifier interface {
	NotifyUrgent(ctx context.Context, message string) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ context.Context, _ string) error {
	return nil
}
