/*
reservations.go - Reservation lifecycle engine

PURPOSE:
  A reservation is a claim on future availability. It never touches stock;
  it only narrows what other users may reserve: a new reservation needs
  available_copies minus the book's pending, unexpired reservations to be
  positive.

STATE MACHINE:
  pending -> completed   (Fulfill, a loan of one copy was registered)
  pending -> cancelled   (Cancel)
  pending -> expired     (lazy expiry, expires_at < now)
  All three are terminal.

LAZY EXPIRY:
  There is no background job the engine relies on. Every path that reads or
  mutates pending reservations first runs the batch pending -> expired
  update in the same transaction, so a stale pending row is never observed.

SEE ALSO:
  - loans.go: registerTx, shared by Fulfill
*/
package circulation

import (
	"context"
	"fmt"
	"log/slog"
)

// ReservationEngine creates, fulfills and cancels reservations.
type ReservationEngine struct {
	*deps
}

// Create places a pending reservation of one copy of bookID for userID.
func (e *ReservationEngine) Create(ctx context.Context, bookID, userID int64) (*Reservation, error) {
	const op = "create reservation"
	p, err := e.params(ctx, op)
	if err != nil {
		return nil, err
	}
	if p.ReservationExpiryDays < 1 {
		return nil, ruleErr(op, KindInvalidArgument, "reservation expiry days is %d", p.ReservationExpiryDays)
	}
	now := e.now().Unix()

	var res *Reservation
	err = e.run(ctx, op, func(tx Tx) error {
		if _, err := tx.ExpireReservations(ctx, now); err != nil {
			return err
		}

		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil || !user.Active || !user.Role.IsBorrower() {
			return ruleErr(op, KindInvalidRecipient, "user %d must be an active student or teacher", userID)
		}
		if user.SanctionVigent(now) {
			return ruleErr(op, KindRecipientSanctioned, "user %d sanctioned until %s", user.ID, e.formatTime(user.SanctionEnd))
		}

		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book == nil || !book.Active {
			return ruleErr(op, KindBookUnavailable, "book %d", bookID)
		}
		pending, err := tx.CountPendingReservations(ctx, book.ID, now)
		if err != nil {
			return err
		}
		if free := book.AvailableCopies - pending; free <= 0 {
			return &InsufficientStockError{BookID: book.ID, Available: max(free, 0), Requested: 1}
		}

		hasLoan, err := tx.HasActiveLoan(ctx, user.ID, book.ID)
		if err != nil {
			return err
		}
		if hasLoan {
			return ruleErr(op, KindDuplicateActiveLoan, "user %d, book %d", user.ID, book.ID)
		}
		hasRes, err := tx.HasPendingReservation(ctx, user.ID, book.ID, now)
		if err != nil {
			return err
		}
		if hasRes {
			return ruleErr(op, KindDuplicateReservation, "user %d, book %d", user.ID, book.ID)
		}

		r := &Reservation{
			BookID:     book.ID,
			UserID:     user.ID,
			ReservedAt: now,
			ExpiresAt:  now + int64(p.ReservationExpiryDays)*SecondsPerDay,
			State:      ReservationPending,
		}
		if r.ID, err = tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("reservation created",
		slog.Int64("reservation_id", res.ID),
		slog.Int64("book_id", res.BookID),
		slog.Int64("user_id", res.UserID))
	e.notify(ctx, Notification{
		Kind:    NotifyReservationCreated,
		UserID:  res.UserID,
		Subject: "Reservation created",
		Body: fmt.Sprintf("Reservation #%d of book #%d is held until %s.",
			res.ID, res.BookID, e.formatTime(res.ExpiresAt)),
	})
	return res, nil
}

// Fulfill lends one copy to the reservation's user and completes it. If the
// loan cannot be registered the reservation is left as it was and the loan
// failure is returned.
func (e *ReservationEngine) Fulfill(ctx context.Context, reservationID, operatorID int64) (*Loan, error) {
	const op = "fulfill reservation"
	p, err := e.params(ctx, op)
	if err != nil {
		return nil, err
	}
	now := e.now()

	var loan *Loan
	err = e.run(ctx, op, func(tx Tx) error {
		if _, err := tx.ExpireReservations(ctx, now.Unix()); err != nil {
			return err
		}
		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil || r.State != ReservationPending {
			return ruleErr(op, KindReservationNotFound, "reservation %d", reservationID)
		}

		loan, err = e.registerTx(ctx, tx, op, p, now, LoanRequest{
			BookID:      r.BookID,
			RecipientID: r.UserID,
			OperatorID:  operatorID,
			Quantity:    1,
		})
		if err != nil {
			return err
		}
		return tx.SetReservationState(ctx, r.ID, ReservationCompleted)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("reservation fulfilled",
		slog.Int64("reservation_id", reservationID),
		slog.Int64("loan_id", loan.ID),
		slog.Int64("operator_id", operatorID))
	e.notify(ctx, Notification{
		Kind:    NotifyReservationFulfilled,
		UserID:  loan.UserID,
		Subject: "Reservation fulfilled",
		Body: fmt.Sprintf("Reservation #%d became loan #%d, due %s.",
			reservationID, loan.ID, e.formatTime(loan.DueAt)),
	})
	return loan, nil
}

// Cancel moves a pending reservation to cancelled. Expired, completed and
// cancelled reservations fail with ReservationNotFound.
func (e *ReservationEngine) Cancel(ctx context.Context, reservationID int64) error {
	const op = "cancel reservation"
	now := e.now().Unix()

	err := e.run(ctx, op, func(tx Tx) error {
		if _, err := tx.ExpireReservations(ctx, now); err != nil {
			return err
		}
		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil || r.State != ReservationPending {
			return ruleErr(op, KindReservationNotFound, "reservation %d", reservationID)
		}
		return tx.SetReservationState(ctx, r.ID, ReservationCancelled)
	})
	if err != nil {
		return err
	}
	e.log.Info("reservation cancelled", slog.Int64("reservation_id", reservationID))
	return nil
}

// ExpireStale runs the lazy expiry batch on its own and returns how many
// reservations moved to expired.
func (e *ReservationEngine) ExpireStale(ctx context.Context) (int64, error) {
	const op = "expire reservations"
	now := e.now().Unix()

	var n int64
	err := e.run(ctx, op, func(tx Tx) error {
		var err error
		n, err = tx.ExpireReservations(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("reservations expired", slog.Int64("count", n))
	}
	return n, nil
}

// Get returns a reservation by ID after running lazy expiry.
func (e *ReservationEngine) Get(ctx context.Context, id int64) (*Reservation, error) {
	if _, err := e.ExpireStale(ctx); err != nil {
		return nil, err
	}
	r, err := e.store.GetReservation(ctx, id)
	if err != nil {
		return nil, infraErr("get reservation", err)
	}
	if r == nil {
		return nil, ruleErr("get reservation", KindReservationNotFound, "reservation %d", id)
	}
	return r, nil
}

// List returns reservations matching f after running lazy expiry.
func (e *ReservationEngine) List(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	if _, err := e.ExpireStale(ctx); err != nil {
		return nil, err
	}
	out, err := e.store.ListReservations(ctx, f)
	return out, infraErr("list reservations", err)
}

// ListPending returns the pending reservations of a book, oldest first.
func (e *ReservationEngine) ListPending(ctx context.Context, bookID int64) ([]Reservation, error) {
	return e.List(ctx, ReservationFilter{BookID: &bookID, State: ReservationPending})
}
