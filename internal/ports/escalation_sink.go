package ports

import (
	"context"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// EscalationSink receives admin notifications. Notify is a short bounded
// append and must not block the calling worker.
type EscalationSink interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// NotificationLog is the readable side of the admin notification history.
type NotificationLog interface {
	// ListNotifications returns notifications newest first.
	ListNotifications(ctx context.Context) ([]domain.Notification, error)
	ClearNotifications(ctx context.Context) error
}
