// Package notify holds circulation.Notifier implementations that do not
// need a database: a structured-log sink and a fan-out.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/warp/circulation-engine/circulation"
)

// Logger writes every notification as an Info record.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Notify(ctx context.Context, n circulation.Notification) error {
	l.Log.InfoContext(ctx, "notification",
		slog.String("kind", string(n.Kind)),
		slog.Int64("user_id", n.UserID),
		slog.String("subject", n.Subject),
		slog.String("body", n.Body))
	return nil
}

// Multi delivers to every notifier in order and joins their errors. One
// failing sink does not stop the others.
type Multi []circulation.Notifier

func (m Multi) Notify(ctx context.Context, n circulation.Notification) error {
	var errs []error
	for _, target := range m {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
