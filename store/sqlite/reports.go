package sqlite

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// REPORTS (circulation.Reporter interface)
// =============================================================================

// LoanReport joins loans with their book and borrower, soonest due first.
func (s *Store) LoanReport(ctx context.Context, f circulation.LoanFilter) ([]circulation.LoanLine, error) {
	ds := dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Select(
			goqu.I("l.id").As("loan_id"),
			goqu.I("l.book_id").As("book_id"),
			goqu.I("b.title").As("book_title"),
			goqu.I("l.user_id").As("user_id"),
			goqu.I("u.username").As("username"),
			goqu.I("u.full_name").As("full_name"),
			goqu.I("u.role").As("role"),
			goqu.I("l.quantity").As("quantity"),
			goqu.I("l.loaned_at").As("loaned_at"),
			goqu.I("l.due_at").As("due_at"),
			goqu.I("l.returned_at").As("returned_at"),
			goqu.I("l.state").As("state"),
			goqu.I("l.renewals").As("renewals"),
		).
		Where(loanWhere("l", f)...).
		Order(goqu.I("l.due_at").Asc(), goqu.I("l.id").Asc())
	ds = page(ds, f.Limit, f.Offset)

	return read(s, func(q sqlx.ExtContext) ([]circulation.LoanLine, error) {
		var lines []circulation.LoanLine
		if err := selectDataset(ctx, q, &lines, ds); err != nil {
			return nil, fmt.Errorf("loan report: %w", err)
		}
		return lines, nil
	})
}

// SanctionReport lists sanctions with their user, newest first.
func (s *Store) SanctionReport(ctx context.Context, state circulation.SanctionState) ([]circulation.SanctionLine, error) {
	ds := dialect.From(goqu.T("sanctions").As("s")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("s.user_id")))).
		Select(
			goqu.I("s.id").As("sanction_id"),
			goqu.I("s.user_id").As("user_id"),
			goqu.I("u.username").As("username"),
			goqu.I("u.full_name").As("full_name"),
			goqu.I("s.loan_id").As("loan_id"),
			goqu.I("s.starts_at").As("starts_at"),
			goqu.I("s.ends_at").As("ends_at"),
			goqu.I("s.reason").As("reason"),
			goqu.I("s.amount").As("amount"),
			goqu.I("s.state").As("state"),
		).
		Order(goqu.I("s.starts_at").Desc(), goqu.I("s.id").Desc())
	if state != "" {
		ds = ds.Where(goqu.I("s.state").Eq(string(state)))
	}

	return read(s, func(q sqlx.ExtContext) ([]circulation.SanctionLine, error) {
		var lines []circulation.SanctionLine
		if err := selectDataset(ctx, q, &lines, ds); err != nil {
			return nil, fmt.Errorf("sanction report: %w", err)
		}
		return lines, nil
	})
}

// ReservationReport lists reservations with book and user, oldest first.
func (s *Store) ReservationReport(ctx context.Context, state circulation.ReservationState) ([]circulation.ReservationLine, error) {
	ds := dialect.From(goqu.T("reservations").As("r")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("r.user_id")))).
		Select(
			goqu.I("r.id").As("reservation_id"),
			goqu.I("r.book_id").As("book_id"),
			goqu.I("b.title").As("book_title"),
			goqu.I("r.user_id").As("user_id"),
			goqu.I("u.username").As("username"),
			goqu.I("u.full_name").As("full_name"),
			goqu.I("r.reserved_at").As("reserved_at"),
			goqu.I("r.expires_at").As("expires_at"),
			goqu.I("r.state").As("state"),
		).
		Order(goqu.I("r.reserved_at").Asc(), goqu.I("r.id").Asc())
	if state != "" {
		ds = ds.Where(goqu.I("r.state").Eq(string(state)))
	}

	return read(s, func(q sqlx.ExtContext) ([]circulation.ReservationLine, error) {
		var lines []circulation.ReservationLine
		if err := selectDataset(ctx, q, &lines, ds); err != nil {
			return nil, fmt.Errorf("reservation report: %w", err)
		}
		return lines, nil
	})
}

// StockReport lists every book with the quantity out on active loans and
// its pending reservations.
func (s *Store) StockReport(ctx context.Context) ([]circulation.StockLine, error) {
	activeLoaned := dialect.From("loans").
		Select(goqu.COALESCE(goqu.SUM("quantity"), 0)).
		Where(goqu.I("loans.book_id").Eq(goqu.I("b.id")), goqu.I("loans.state").Eq(string(circulation.LoanActive)))
	pending := dialect.From("reservations").
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.I("reservations.book_id").Eq(goqu.I("b.id")), goqu.I("reservations.state").Eq(string(circulation.ReservationPending)))

	ds := dialect.From(goqu.T("books").As("b")).
		Select(
			goqu.I("b.id").As("book_id"),
			goqu.I("b.title").As("title"),
			goqu.I("b.isbn").As("isbn"),
			goqu.I("b.active").As("active"),
			goqu.I("b.total_copies").As("total_copies"),
			goqu.I("b.available_copies").As("available_copies"),
			activeLoaned.As("active_loaned"),
			pending.As("pending_reservations"),
		).
		Order(goqu.I("b.title").Asc(), goqu.I("b.id").Asc())

	return read(s, func(q sqlx.ExtContext) ([]circulation.StockLine, error) {
		var lines []circulation.StockLine
		if err := selectDataset(ctx, q, &lines, ds); err != nil {
			return nil, fmt.Errorf("stock report: %w", err)
		}
		return lines, nil
	})
}

// Summary counts the dashboard figures at now.
func (s *Store) Summary(ctx context.Context, now int64) (circulation.Summary, error) {
	return read(s, func(q sqlx.ExtContext) (circulation.Summary, error) {
		var sum circulation.Summary
		counts := []struct {
			dest  *int
			query string
			args  []any
		}{
			{&sum.Books, `SELECT COUNT(*) FROM books`, nil},
			{&sum.Users, `SELECT COUNT(*) FROM users`, nil},
			{&sum.ActiveLoans, `SELECT COUNT(*) FROM loans WHERE state = 'active'`, nil},
			{&sum.OverdueLoans, `SELECT COUNT(*) FROM loans WHERE state = 'active' AND due_at < ?`, []any{now}},
			{&sum.PendingReservations, `SELECT COUNT(*) FROM reservations WHERE state = 'pending' AND expires_at >= ?`, []any{now}},
			{&sum.ActiveSanctions, `SELECT COUNT(*) FROM sanctions WHERE state = 'active' AND (ends_at = 0 OR ends_at > ?)`, []any{now}},
			{&sum.SanctionedUsers, `SELECT COUNT(*) FROM users WHERE sanctioned AND (sanction_end = 0 OR sanction_end > ?)`, []any{now}},
		}
		for _, c := range counts {
			if err := sqlx.GetContext(ctx, q, c.dest, c.query, c.args...); err != nil {
				return sum, fmt.Errorf("summary: %w", err)
			}
		}

		// Amounts are stored as decimal text; sum them exactly here.
		var amounts []decimal.Decimal
		if err := sqlx.SelectContext(ctx, q, &amounts,
			`SELECT amount FROM sanctions WHERE state = 'active'`); err != nil {
			return sum, fmt.Errorf("summary: %w", err)
		}
		sum.OutstandingFines = decimal.Sum(decimal.Zero, amounts...)
		return sum, nil
	})
}
