package circulation

import (
	"context"
	"log/slog"
)

// =============================================================================
// NOTIFICATIONS - Emitted after commit, never inside a transaction
// =============================================================================

type NotificationKind string

const (
	NotifyLoanRegistered       NotificationKind = "loan_registered"
	NotifyLoanRenewed          NotificationKind = "loan_renewed"
	NotifyLoanReturned         NotificationKind = "loan_returned"
	NotifySanctionCreated      NotificationKind = "sanction_created"
	NotifySanctionClosed       NotificationKind = "sanction_closed"
	NotifyReservationCreated   NotificationKind = "reservation_created"
	NotifyReservationFulfilled NotificationKind = "reservation_fulfilled"
)

// Notification is an outbound message about a committed change.
type Notification struct {
	Kind    NotificationKind
	UserID  int64
	Subject string
	Body    string
}

// Notifier receives notifications. Failures are logged by the engine and never
// undo the committed operation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

func (d *deps) notify(ctx context.Context, notes ...Notification) {
	for _, n := range notes {
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.log.Warn("notification failed",
				slog.String("kind", string(n.Kind)),
				slog.Int64("user_id", n.UserID),
				slog.Any("error", err))
		}
	}
}
