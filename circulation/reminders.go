/*
reminders.go - Bulk reminder notices

PURPOSE:
  Queues reminder notifications that do not follow from a single write:
  loans about to fall due, loans already overdue, and reservations still
  waiting for a copy. Each batch reads the report views and hands one
  Notification per row to the configured Notifier (the outbox in
  production). Nothing here mutates the ledgers, apart from the lazy
  reservation expiry the reservation report already performs.

DELIVERY:
  A notifier failure does not stop the batch. Each batch reports how many
  rows it found and how many notifications were accepted.

SEE ALSO:
  - reports.go: the loan and reservation views read here
  - api/admin_handlers.go: POST /api/reminders/run
*/
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

const (
	NotifyLoanDueSoon        NotificationKind = "loan_due_soon"
	NotifyLoanOverdue        NotificationKind = "loan_overdue"
	NotifyReservationPending NotificationKind = "reservation_pending"
)

// ReminderBatch counts one kind of reminder.
type ReminderBatch struct {
	Total int `json:"total"`
	Sent  int `json:"sent"`
}

// ReminderRun is the outcome of SendAll.
type ReminderRun struct {
	DueSoon             ReminderBatch `json:"due_soon"`
	Overdue             ReminderBatch `json:"overdue"`
	PendingReservations ReminderBatch `json:"pending_reservations"`
}

// Reminders queues due-soon, overdue and pending-reservation notices.
type Reminders struct {
	reports *Reports
}

// DueSoon reminds every borrower whose active loan falls due within days
// calendar days (0 means today) and is not overdue yet.
func (rm *Reminders) DueSoon(ctx context.Context, days int) (ReminderBatch, error) {
	const op = "due soon reminders"
	if days < 0 {
		return ReminderBatch{}, ruleErr(op, KindInvalidArgument, "days must not be negative, got %d", days)
	}
	lines, err := rm.reports.ActiveLoans(ctx)
	if err != nil {
		return ReminderBatch{}, err
	}

	d := rm.reports.deps
	now := d.now()
	var notes []Notification
	for _, l := range lines {
		if l.DueAt < now.Unix() {
			continue
		}
		left := d.window.CalendarDays(now, time.Unix(l.DueAt, 0))
		if left > days {
			continue
		}
		notes = append(notes, Notification{
			Kind:    NotifyLoanDueSoon,
			UserID:  l.UserID,
			Subject: "Return reminder: " + l.BookTitle,
			Body: fmt.Sprintf("%s, your loan of %q is due on %s (in %d day(s)).",
				l.FullName, l.BookTitle, d.formatTime(l.DueAt), left),
		})
	}
	return rm.send(ctx, op, notes), nil
}

// Overdue notifies every borrower holding an overdue loan, with the days late
// and the fine accrued so far.
func (rm *Reminders) Overdue(ctx context.Context) (ReminderBatch, error) {
	const op = "overdue notices"
	d := rm.reports.deps
	p, err := d.params(ctx, op)
	if err != nil {
		return ReminderBatch{}, err
	}
	lines, err := rm.reports.OverdueLoans(ctx)
	if err != nil {
		return ReminderBatch{}, err
	}

	notes := make([]Notification, 0, len(lines))
	for _, l := range lines {
		fine := p.FinePerDay.Mul(decimal.NewFromInt(int64(l.DaysOverdue)))
		notes = append(notes, Notification{
			Kind:    NotifyLoanOverdue,
			UserID:  l.UserID,
			Subject: "Overdue return: " + l.BookTitle,
			Body: fmt.Sprintf("%s, your loan of %q is %d day(s) late. It was due on %s. Fine so far: %s.",
				l.FullName, l.BookTitle, l.DaysOverdue, d.formatTime(l.DueAt), fine.StringFixed(2)),
		})
	}
	return rm.send(ctx, op, notes), nil
}

// PendingReservations reminds every borrower with a pending reservation.
// Stale reservations are expired first and get no reminder.
func (rm *Reminders) PendingReservations(ctx context.Context) (ReminderBatch, error) {
	const op = "pending reservation reminders"
	lines, err := rm.reports.Reservations(ctx, ReservationPending)
	if err != nil {
		return ReminderBatch{}, err
	}

	d := rm.reports.deps
	now := d.now()
	notes := make([]Notification, 0, len(lines))
	for _, r := range lines {
		waiting := d.window.CalendarDays(time.Unix(r.ReservedAt, 0), now)
		notes = append(notes, Notification{
			Kind:    NotifyReservationPending,
			UserID:  r.UserID,
			Subject: "Pending reservation: " + r.BookTitle,
			Body: fmt.Sprintf("%s, your reservation of %q has been pending since %s (%d day(s)). It expires on %s.",
				r.FullName, r.BookTitle, d.formatTime(r.ReservedAt), waiting, d.formatTime(r.ExpiresAt)),
		})
	}
	return rm.send(ctx, op, notes), nil
}

// SendAll runs the three batches, using reminder_days_before_due for the
// due-soon horizon.
func (rm *Reminders) SendAll(ctx context.Context) (ReminderRun, error) {
	p, err := rm.reports.params(ctx, "send reminders")
	if err != nil {
		return ReminderRun{}, err
	}
	return rm.SendWithin(ctx, p.ReminderDaysBeforeDue)
}

// SendWithin runs the three batches with a due-soon horizon of days. It
// stops at the first batch that cannot be read.
func (rm *Reminders) SendWithin(ctx context.Context, days int) (ReminderRun, error) {
	var run ReminderRun
	var err error
	if run.DueSoon, err = rm.DueSoon(ctx, days); err != nil {
		return run, err
	}
	if run.Overdue, err = rm.Overdue(ctx); err != nil {
		return run, err
	}
	run.PendingReservations, err = rm.PendingReservations(ctx)
	return run, err
}

func (rm *Reminders) send(ctx context.Context, op string, notes []Notification) ReminderBatch {
	d := rm.reports.deps
	batch := ReminderBatch{Total: len(notes)}
	for _, n := range notes {
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.log.Warn("reminder not queued",
				slog.String("op", op),
				slog.Int64("user_id", n.UserID),
				slog.Any("error", err))
			continue
		}
		batch.Sent++
	}
	if batch.Total > 0 {
		d.log.Info("reminders queued", slog.String("op", op),
			slog.Int("total", batch.Total), slog.Int("sent", batch.Sent))
	}
	return batch
}
