package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// NOTIFICATION OUTBOX (circulation.Notifier interface)
// =============================================================================

// Outbox status values. Delivery is done elsewhere; this store only queues.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
)

// OutboxMessage is a queued notification.
type OutboxMessage struct {
	ID        string `db:"id" json:"id"`
	Kind      string `db:"kind" json:"kind"`
	UserID    *int64 `db:"user_id" json:"user_id,omitempty"`
	Subject   string `db:"subject" json:"subject"`
	Body      string `db:"body" json:"body"`
	Status    string `db:"status" json:"status"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// Notify queues n in the notifications table. Engines call it after their
// transaction commits.
func (s *Store) Notify(ctx context.Context, n circulation.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := OutboxMessage{
		ID:        uuid.NewString(),
		Kind:      string(n.Kind),
		Subject:   n.Subject,
		Body:      n.Body,
		Status:    OutboxPending,
		CreatedAt: time.Now().Unix(),
	}
	if n.UserID != 0 {
		msg.UserID = &n.UserID
	}
	_, err := sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO notifications (id, kind, user_id, subject, body, status, created_at)
		VALUES (:id, :kind, :user_id, :subject, :body, :status, :created_at)`, msg)
	if err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

// ListOutbox returns queued messages, oldest first. An empty status lists all.
func (s *Store) ListOutbox(ctx context.Context, status string, limit int) ([]OutboxMessage, error) {
	ds := dialect.From("notifications").
		Select("id", "kind", "user_id", "subject", "body", "status", "created_at").
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if status != "" {
		ds = ds.Where(goqu.C("status").Eq(status))
	}
	ds = page(ds, limit, 0)

	return read(s, func(q sqlx.ExtContext) ([]OutboxMessage, error) {
		var out []OutboxMessage
		if err := selectDataset(ctx, q, &out, ds); err != nil {
			return nil, fmt.Errorf("list outbox: %w", err)
		}
		return out, nil
	})
}

// MarkSent flags a queued message as delivered.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: notification id %q", circulation.ErrInvalidArgument, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ?`, OutboxSent, id)
	if err != nil {
		return classify("mark notification "+id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: unknown notification %s", circulation.ErrInvalidArgument, id)
	}
	return nil
}
