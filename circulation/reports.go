/*
reports.go - Read-only reporting surface

PURPOSE:
  Tabular views over the ledgers for librarians and administrators: active
  and overdue loans, loans in a date range, sanctions, reservations, stock
  and a dashboard summary. Nothing here mutates state except the lazy
  reservation expiry that every reservation read runs first.

SEE ALSO:
  - store/sqlite/reports.go: query implementation
*/
package circulation

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// LoanLine is one row of a loan report.
type LoanLine struct {
	LoanID      int64     `db:"loan_id"`
	BookID      int64     `db:"book_id"`
	BookTitle   string    `db:"book_title"`
	UserID      int64     `db:"user_id"`
	Username    string    `db:"username"`
	FullName    string    `db:"full_name"`
	Role        Role      `db:"role"`
	Quantity    int       `db:"quantity"`
	LoanedAt    int64     `db:"loaned_at"`
	DueAt       int64     `db:"due_at"`
	ReturnedAt  *int64    `db:"returned_at"`
	State       LoanState `db:"state"`
	Renewals    int       `db:"renewals"`
	DaysOverdue int       `db:"-"`
}

// SanctionLine is one row of a sanction report.
type SanctionLine struct {
	SanctionID int64           `db:"sanction_id"`
	UserID     int64           `db:"user_id"`
	Username   string          `db:"username"`
	FullName   string          `db:"full_name"`
	LoanID     *int64          `db:"loan_id"`
	StartsAt   int64           `db:"starts_at"`
	EndsAt     int64           `db:"ends_at"`
	Reason     string          `db:"reason"`
	Amount     decimal.Decimal `db:"amount"`
	State      SanctionState   `db:"state"`
}

// ReservationLine is one row of a reservation report.
type ReservationLine struct {
	ReservationID int64            `db:"reservation_id"`
	BookID        int64            `db:"book_id"`
	BookTitle     string           `db:"book_title"`
	UserID        int64            `db:"user_id"`
	Username      string           `db:"username"`
	FullName      string           `db:"full_name"`
	ReservedAt    int64            `db:"reserved_at"`
	ExpiresAt     int64            `db:"expires_at"`
	State         ReservationState `db:"state"`
}

// StockLine shows where the copies of one book are.
type StockLine struct {
	BookID              int64   `db:"book_id"`
	Title               string  `db:"title"`
	ISBN                *string `db:"isbn"`
	Active              bool    `db:"active"`
	TotalCopies         int     `db:"total_copies"`
	AvailableCopies     int     `db:"available_copies"`
	ActiveLoaned        int     `db:"active_loaned"`
	PendingReservations int     `db:"pending_reservations"`
}

// Summary holds dashboard counters.
type Summary struct {
	Books               int             `json:"books"`
	Users               int             `json:"users"`
	ActiveLoans         int             `json:"active_loans"`
	OverdueLoans        int             `json:"overdue_loans"`
	PendingReservations int             `json:"pending_reservations"`
	ActiveSanctions     int             `json:"active_sanctions"`
	SanctionedUsers     int             `json:"sanctioned_users"`
	OutstandingFines    decimal.Decimal `json:"outstanding_fines"`
}

// Reporter runs the report queries. Store implementations that support
// reporting implement it alongside Store.
type Reporter interface {
	LoanReport(ctx context.Context, f LoanFilter) ([]LoanLine, error)
	SanctionReport(ctx context.Context, state SanctionState) ([]SanctionLine, error)
	ReservationReport(ctx context.Context, state ReservationState) ([]ReservationLine, error)
	StockReport(ctx context.Context) ([]StockLine, error)
	Summary(ctx context.Context, now int64) (Summary, error)
}

var errNoReporter = errors.New("store does not support reports")

// Reports exposes the reporting surface.
type Reports struct {
	*deps
	reporter Reporter
}

func (r *Reports) source(op string) (Reporter, error) {
	if r.reporter == nil {
		return nil, infraErr(op, errNoReporter)
	}
	return r.reporter, nil
}

func (r *Reports) loans(ctx context.Context, op string, f LoanFilter) ([]LoanLine, error) {
	src, err := r.source(op)
	if err != nil {
		return nil, err
	}
	lines, err := src.LoanReport(ctx, f)
	if err != nil {
		return nil, infraErr(op, err)
	}
	now := r.now().Unix()
	for i := range lines {
		if lines[i].State == LoanActive {
			lines[i].DaysOverdue = DaysLate(now, lines[i].DueAt)
		}
	}
	return lines, nil
}

// ActiveLoans lists every active loan, soonest due first.
func (r *Reports) ActiveLoans(ctx context.Context) ([]LoanLine, error) {
	return r.loans(ctx, "active loan report", LoanFilter{State: LoanActive})
}

// OverdueLoans lists active loans past their due time.
func (r *Reports) OverdueLoans(ctx context.Context) ([]LoanLine, error) {
	return r.loans(ctx, "overdue loan report", LoanFilter{OverdueAt: r.now().Unix()})
}

// LoansBetween lists loans made in [from, to], any state.
func (r *Reports) LoansBetween(ctx context.Context, from, to int64) ([]LoanLine, error) {
	const op = "loan history report"
	if to > 0 && from > to {
		return nil, ruleErr(op, KindInvalidArgument, "range start is after its end")
	}
	return r.loans(ctx, op, LoanFilter{LoanedFrom: from, LoanedTo: to})
}

// Sanctions lists sanctions in state, or all when state is empty.
func (r *Reports) Sanctions(ctx context.Context, state SanctionState) ([]SanctionLine, error) {
	const op = "sanction report"
	src, err := r.source(op)
	if err != nil {
		return nil, err
	}
	lines, err := src.SanctionReport(ctx, state)
	return lines, infraErr(op, err)
}

// Reservations lists reservations in state after running lazy expiry.
func (r *Reports) Reservations(ctx context.Context, state ReservationState) ([]ReservationLine, error) {
	const op = "reservation report"
	src, err := r.source(op)
	if err != nil {
		return nil, err
	}
	if _, err := (&ReservationEngine{r.deps}).ExpireStale(ctx); err != nil {
		return nil, err
	}
	lines, err := src.ReservationReport(ctx, state)
	return lines, infraErr(op, err)
}

// Stock lists every book with its copy counters.
func (r *Reports) Stock(ctx context.Context) ([]StockLine, error) {
	const op = "stock report"
	src, err := r.source(op)
	if err != nil {
		return nil, err
	}
	lines, err := src.StockReport(ctx)
	return lines, infraErr(op, err)
}

// Summary returns the dashboard counters.
func (r *Reports) Summary(ctx context.Context) (Summary, error) {
	const op = "summary report"
	src, err := r.source(op)
	if err != nil {
		return Summary{}, err
	}
	if _, err := (&ReservationEngine{r.deps}).ExpireStale(ctx); err != nil {
		return Summary{}, err
	}
	s, err := src.Summary(ctx, r.now().Unix())
	return s, infraErr(op, err)
}
