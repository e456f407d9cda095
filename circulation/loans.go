/*
loans.go - Loan lifecycle engine

PURPOSE:
  Creates, renews and closes loans. Each operation is one transaction that
  holds the book and/or loan row lock for its whole duration.

STATE MACHINE:
  active -> returned | damaged | lost   (Return, terminal)
  active -> (deleted)                   (CancelActive, undo of an erroneous entry)

REGISTER PRECONDITIONS (checked in this order):
  1. now inside the service window             OutsideServiceHours
  2. quantity >= 1                             InvalidArgument
  3. operator != recipient                     SelfLoanForbidden
  4. operator is an active, validated admin or
     librarian                                 InvalidOperator
  5. book active, available >= quantity        BookUnavailable / InsufficientStock
  6. recipient active student or teacher       InvalidRecipient
  7. recipient has no vigent sanction          RecipientSanctioned
  8. recipient active loans < max_loans[role]  LoanLimitExceeded
  9. no active loan of the same book           DuplicateActiveLoan

RETURN SANCTIONS:
  - Late (now > due): fine_per_day x days_late, blocked for
    sanction_days_per_day_late x days_late days.
  - Damaged or lost: damage_loss_cost x quantity, blocked for
    damage_loss_sanction_days days. Copies are not restored.
  Both apply independently; the user's "sanctioned until" is the latest end.

SEE ALSO:
  - reservations.go: Fulfill delegates to the same registration path
  - sanctions.go: manual sanctions and condoning
*/
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// LoanEngine registers, renews and closes loans.
type LoanEngine struct {
	*deps
}

// LoanRequest asks to lend Quantity copies of a book.
type LoanRequest struct {
	BookID      int64
	RecipientID int64
	OperatorID  int64
	Quantity    int
}

// ReturnRequest closes an active loan in State.
type ReturnRequest struct {
	LoanID int64
	State  LoanState
	Notes  string
}

// ReturnResult is the closed loan plus any sanctions the return created.
type ReturnResult struct {
	Loan      Loan
	Sanctions []Sanction
}

// =============================================================================
// REGISTER
// =============================================================================

// Register creates an active loan and takes the copies out of stock.
func (e *LoanEngine) Register(ctx context.Context, req LoanRequest) (*Loan, error) {
	const op = "register loan"
	p, err := e.params(ctx, op)
	if err != nil {
		return nil, err
	}
	now := e.now()

	var loan *Loan
	err = e.run(ctx, op, func(tx Tx) error {
		var err error
		loan, err = e.registerTx(ctx, tx, op, p, now, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("loan registered",
		slog.Int64("loan_id", loan.ID),
		slog.Int64("book_id", loan.BookID),
		slog.Int64("user_id", loan.UserID),
		slog.Int64("operator_id", loan.OperatorID),
		slog.Int("quantity", loan.Quantity))
	e.notify(ctx, Notification{
		Kind:    NotifyLoanRegistered,
		UserID:  loan.UserID,
		Subject: "Loan registered",
		Body: fmt.Sprintf("Loan #%d of book #%d (%d copies) is due %s.",
			loan.ID, loan.BookID, loan.Quantity, e.formatTime(loan.DueAt)),
	})
	return loan, nil
}

// registerTx runs every registration precondition and effect inside tx.
func (d *deps) registerTx(ctx context.Context, tx Tx, op string, p Params, now time.Time, req LoanRequest) (*Loan, error) {
	if err := d.checkWindow(op, now); err != nil {
		return nil, err
	}
	if req.Quantity < 1 {
		return nil, ruleErr(op, KindInvalidArgument, "quantity must be at least 1, got %d", req.Quantity)
	}
	if req.OperatorID == req.RecipientID {
		return nil, ruleErr(op, KindSelfLoanForbidden, "user %d", req.OperatorID)
	}

	operator, err := tx.LockUser(ctx, req.OperatorID)
	if err != nil {
		return nil, err
	}
	if operator == nil || !operator.CanOperate() {
		return nil, ruleErr(op, KindInvalidOperator, "user %d must be an active, validated admin or librarian", req.OperatorID)
	}

	book, err := tx.LockBook(ctx, req.BookID)
	if err != nil {
		return nil, err
	}
	if book == nil || !book.Active {
		return nil, ruleErr(op, KindBookUnavailable, "book %d", req.BookID)
	}
	if book.AvailableCopies < req.Quantity {
		return nil, &InsufficientStockError{BookID: book.ID, Available: book.AvailableCopies, Requested: req.Quantity}
	}

	recipient, err := tx.LockUser(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}
	if recipient == nil || !recipient.Active || !recipient.Role.IsBorrower() {
		return nil, ruleErr(op, KindInvalidRecipient, "user %d must be an active student or teacher", req.RecipientID)
	}
	nowUnix := now.Unix()
	if recipient.SanctionVigent(nowUnix) {
		return nil, ruleErr(op, KindRecipientSanctioned, "user %d sanctioned until %s", recipient.ID, d.formatTime(recipient.SanctionEnd))
	}

	policy, ok := p.Policy(recipient.Role)
	if !ok {
		return nil, ruleErr(op, KindInvalidRecipient, "no loan policy for role %s", recipient.Role)
	}
	active, err := tx.CountActiveLoans(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}
	if active >= policy.MaxLoans {
		return nil, &LoanLimitError{UserID: recipient.ID, Role: recipient.Role, Active: active, Max: policy.MaxLoans}
	}
	dup, err := tx.HasActiveLoan(ctx, recipient.ID, book.ID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ruleErr(op, KindDuplicateActiveLoan, "user %d, book %d", recipient.ID, book.ID)
	}

	loan := &Loan{
		BookID:     book.ID,
		UserID:     recipient.ID,
		OperatorID: operator.ID,
		LoanedAt:   nowUnix,
		DueAt:      d.window.DueAt(now, policy.LoanDays).Unix(),
		State:      LoanActive,
		Quantity:   req.Quantity,
	}
	if loan.ID, err = tx.InsertLoan(ctx, loan); err != nil {
		return nil, err
	}
	if err := tx.AdjustStock(ctx, book.ID, -req.Quantity); err != nil {
		return nil, err
	}
	return loan, nil
}

// =============================================================================
// RENEW
// =============================================================================

// Renew pushes the due date of an active loan forward by the recipient's
// renewal days. Extensions compound from the current due date, not from now.
func (e *LoanEngine) Renew(ctx context.Context, loanID int64) (*Loan, error) {
	const op = "renew loan"
	p, err := e.params(ctx, op)
	if err != nil {
		return nil, err
	}
	now := e.now().Unix()

	var loan *Loan
	err = e.run(ctx, op, func(tx Tx) error {
		l, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if l == nil || l.State != LoanActive {
			return ruleErr(op, KindLoanNotFoundOrClosed, "loan %d", loanID)
		}
		user, err := tx.LockUser(ctx, l.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return ruleErr(op, KindInvalidRecipient, "user %d no longer exists", l.UserID)
		}
		if user.SanctionVigent(now) {
			return ruleErr(op, KindRecipientSanctioned, "user %d sanctioned until %s", user.ID, e.formatTime(user.SanctionEnd))
		}
		if l.Renewals >= p.MaxRenewals {
			return &RenewalLimitError{LoanID: l.ID, Renewals: l.Renewals, Max: p.MaxRenewals}
		}
		policy, ok := p.Policy(user.Role)
		if !ok {
			return ruleErr(op, KindInvalidRecipient, "no renewal policy for role %s", user.Role)
		}
		if policy.RenewalDays < 1 {
			return ruleErr(op, KindInvalidArgument, "renewal days for %s is %d", user.Role, policy.RenewalDays)
		}

		l.DueAt += int64(policy.RenewalDays) * SecondsPerDay
		l.Renewals++
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("loan renewed",
		slog.Int64("loan_id", loan.ID),
		slog.Int("renewals", loan.Renewals),
		slog.Int64("due_at", loan.DueAt))
	e.notify(ctx, Notification{
		Kind:    NotifyLoanRenewed,
		UserID:  loan.UserID,
		Subject: "Loan renewed",
		Body:    fmt.Sprintf("Loan #%d is now due %s.", loan.ID, e.formatTime(loan.DueAt)),
	})
	return loan, nil
}

// =============================================================================
// RETURN
// =============================================================================

// Return closes an active loan, restores stock for good-state returns and
// creates the late and damage/loss sanctions that apply.
func (e *LoanEngine) Return(ctx context.Context, req ReturnRequest) (*ReturnResult, error) {
	const op = "register return"
	p, err := e.params(ctx, op)
	if err != nil {
		return nil, err
	}
	nowTime := e.now()
	now := nowTime.Unix()

	var result ReturnResult
	err = e.run(ctx, op, func(tx Tx) error {
		if err := e.checkWindow(op, nowTime); err != nil {
			return err
		}
		if !req.State.IsReturnState() {
			return ruleErr(op, KindInvalidArgument, "return state must be returned, damaged or lost, got %q", req.State)
		}
		l, err := tx.LockLoan(ctx, req.LoanID)
		if err != nil {
			return err
		}
		if l == nil || l.State != LoanActive {
			return ruleErr(op, KindLoanNotFoundOrClosed, "loan %d", req.LoanID)
		}

		l.State = req.State
		l.ReturnedAt = &now
		l.Notes = req.Notes
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		if req.State == LoanReturned {
			if err := tx.AdjustStock(ctx, l.BookID, l.Quantity); err != nil {
				return err
			}
		}

		var sanctions []Sanction
		if days := DaysLate(now, l.DueAt); days > 0 {
			sanctions = append(sanctions, Sanction{
				UserID:   l.UserID,
				LoanID:   &l.ID,
				StartsAt: now,
				EndsAt:   now + int64(p.SanctionDaysPerDayLate)*int64(days)*SecondsPerDay,
				Reason:   fmt.Sprintf("late return by %d days", days),
				Amount:   p.FinePerDay.Mul(decimal.NewFromInt(int64(days))),
				State:    SanctionActive,
			})
		}
		if req.State == LoanDamaged || req.State == LoanLost {
			sanctions = append(sanctions, Sanction{
				UserID:   l.UserID,
				LoanID:   &l.ID,
				StartsAt: now,
				EndsAt:   now + int64(p.DamageLossSanctionDays)*SecondsPerDay,
				Reason:   fmt.Sprintf("book %s", req.State),
				Amount:   p.DamageLossCost.Mul(decimal.NewFromInt(int64(l.Quantity))),
				State:    SanctionActive,
			})
		}
		if len(sanctions) > 0 {
			if err := e.applySanctions(ctx, tx, op, l.UserID, now, sanctions); err != nil {
				return err
			}
		}

		result = ReturnResult{Loan: *l, Sanctions: sanctions}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("loan returned",
		slog.Int64("loan_id", result.Loan.ID),
		slog.String("state", string(result.Loan.State)),
		slog.Int("sanctions", len(result.Sanctions)))
	notes := []Notification{{
		Kind:    NotifyLoanReturned,
		UserID:  result.Loan.UserID,
		Subject: "Loan returned",
		Body:    fmt.Sprintf("Loan #%d was closed as %s.", result.Loan.ID, result.Loan.State),
	}}
	for _, s := range result.Sanctions {
		notes = append(notes, sanctionNotification(e.deps, s))
	}
	e.notify(ctx, notes...)
	return &result, nil
}

// applySanctions inserts sanctions for one user and raises the user's flag
// with the merged end. Sanction IDs are written back into the slice.
func (d *deps) applySanctions(ctx context.Context, tx Tx, op string, userID, now int64, sanctions []Sanction) error {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ruleErr(op, KindUserNotFound, "user %d", userID)
	}
	for i := range sanctions {
		id, err := tx.InsertSanction(ctx, &sanctions[i])
		if err != nil {
			return err
		}
		sanctions[i].ID = id
		user.SanctionEnd = mergeSanctionEnd(user, sanctions[i].EndsAt, now)
		user.Sanctioned = true
	}
	return tx.SetUserSanction(ctx, user.ID, true, user.SanctionEnd)
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelActive undoes an erroneous loan entry: the copies go back to stock and
// the loan row is deleted. There is no audit trail for cancelled loans.
func (e *LoanEngine) CancelActive(ctx context.Context, loanID int64) error {
	const op = "cancel active loan"
	now := e.now()

	var loan *Loan
	err := e.run(ctx, op, func(tx Tx) error {
		if err := e.checkWindow(op, now); err != nil {
			return err
		}
		l, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if l == nil || l.State != LoanActive {
			return ruleErr(op, KindLoanNotFoundOrClosed, "loan %d", loanID)
		}
		if err := tx.AdjustStock(ctx, l.BookID, l.Quantity); err != nil {
			return err
		}
		loan = l
		return tx.DeleteLoan(ctx, l.ID)
	})
	if err != nil {
		return err
	}
	e.log.Info("active loan cancelled",
		slog.Int64("loan_id", loan.ID),
		slog.Int64("book_id", loan.BookID),
		slog.Int("restored", loan.Quantity))
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a loan by ID.
func (e *LoanEngine) Get(ctx context.Context, id int64) (*Loan, error) {
	l, err := e.store.GetLoan(ctx, id)
	if err != nil {
		return nil, infraErr("get loan", err)
	}
	if l == nil {
		return nil, ruleErr("get loan", KindLoanNotFoundOrClosed, "loan %d", id)
	}
	return l, nil
}

// List returns loans matching f.
func (e *LoanEngine) List(ctx context.Context, f LoanFilter) ([]Loan, error) {
	loans, err := e.store.ListLoans(ctx, f)
	return loans, infraErr("list loans", err)
}

// Overdue returns active loans past their due time.
func (e *LoanEngine) Overdue(ctx context.Context) ([]Loan, error) {
	return e.List(ctx, LoanFilter{OverdueAt: e.now().Unix()})
}

func (d *deps) formatTime(unix int64) string {
	if unix == 0 {
		return "indefinitely"
	}
	return time.Unix(unix, 0).In(d.window.loc()).Format("2006-01-02 15:04")
}
