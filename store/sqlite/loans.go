package sqlite

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// LOAN STORE
// =============================================================================

const loanColumns = `id, book_id, user_id, operator_id, loaned_at, due_at, returned_at,
	state, renewals, quantity, notes`

func getLoan(ctx context.Context, q sqlx.QueryerContext, id int64) (*circulation.Loan, error) {
	l, err := one[circulation.Loan](ctx, q, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get loan %d: %w", id, err)
	}
	return l, nil
}

func (s *Store) GetLoan(ctx context.Context, id int64) (*circulation.Loan, error) {
	return read(s, func(q sqlx.ExtContext) (*circulation.Loan, error) { return getLoan(ctx, q, id) })
}

// loanWhere translates a LoanFilter into conditions on the loans table
// aliased as prefix (empty for no alias).
func loanWhere(prefix string, f circulation.LoanFilter) []exp.Expression {
	col := func(name string) exp.IdentifierExpression {
		if prefix == "" {
			return goqu.C(name)
		}
		return goqu.I(prefix + "." + name)
	}
	var where []exp.Expression
	if f.UserID != nil {
		where = append(where, col("user_id").Eq(*f.UserID))
	}
	if f.BookID != nil {
		where = append(where, col("book_id").Eq(*f.BookID))
	}
	if f.State != "" {
		where = append(where, col("state").Eq(string(f.State)))
	}
	if f.OverdueAt > 0 {
		where = append(where,
			col("state").Eq(string(circulation.LoanActive)),
			col("due_at").Lt(f.OverdueAt))
	}
	if f.LoanedFrom > 0 {
		where = append(where, col("loaned_at").Gte(f.LoanedFrom))
	}
	if f.LoanedTo > 0 {
		where = append(where, col("loaned_at").Lte(f.LoanedTo))
	}
	return where
}

// ListLoans returns loans, newest first.
func (s *Store) ListLoans(ctx context.Context, f circulation.LoanFilter) ([]circulation.Loan, error) {
	ds := dialect.From("loans").
		Select("id", "book_id", "user_id", "operator_id", "loaned_at", "due_at", "returned_at",
			"state", "renewals", "quantity", "notes").
		Where(loanWhere("", f)...).
		Order(goqu.C("loaned_at").Desc(), goqu.C("id").Desc())
	ds = page(ds, f.Limit, f.Offset)

	return read(s, func(q sqlx.ExtContext) ([]circulation.Loan, error) {
		var loans []circulation.Loan
		if err := selectDataset(ctx, q, &loans, ds); err != nil {
			return nil, fmt.Errorf("list loans: %w", err)
		}
		return loans, nil
	})
}

// --- transaction side (circulation.LoanTx) ---

func (ts *txStore) LockLoan(ctx context.Context, id int64) (*circulation.Loan, error) {
	return getLoan(ctx, ts.tx, id)
}

func (ts *txStore) InsertLoan(ctx context.Context, l *circulation.Loan) (int64, error) {
	id, err := lastID(sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO loans (book_id, user_id, operator_id, loaned_at, due_at, returned_at,
			state, renewals, quantity, notes)
		VALUES (:book_id, :user_id, :operator_id, :loaned_at, :due_at, :returned_at,
			:state, :renewals, :quantity, :notes)`, l))
	return id, classify("insert loan", err)
}

func (ts *txStore) UpdateLoan(ctx context.Context, l *circulation.Loan) error {
	err := exactlyOne(sqlx.NamedExecContext(ctx, ts.tx, `
		UPDATE loans SET due_at = :due_at, returned_at = :returned_at, state = :state,
			renewals = :renewals, notes = :notes
		WHERE id = :id`, l))
	return classify(fmt.Sprintf("update loan %d", l.ID), err)
}

func (ts *txStore) DeleteLoan(ctx context.Context, id int64) error {
	err := exactlyOne(ts.tx.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id))
	return classify(fmt.Sprintf("delete loan %d", id), err)
}

func (ts *txStore) CountActiveLoans(ctx context.Context, userID int64) (int, error) {
	var n int
	err := ts.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM loans WHERE user_id = ? AND state = 'active'`, userID)
	return n, err
}

func (ts *txStore) HasActiveLoan(ctx context.Context, userID, bookID int64) (bool, error) {
	var n int
	err := ts.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM loans WHERE user_id = ? AND book_id = ? AND state = 'active'`, userID, bookID)
	return n > 0, err
}

func (ts *txStore) ActiveLoanedQuantity(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := ts.tx.GetContext(ctx, &n,
		`SELECT COALESCE(SUM(quantity), 0) FROM loans WHERE book_id = ? AND state = 'active'`, bookID)
	return n, err
}

func (ts *txStore) CountLoansByBook(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := ts.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM loans WHERE book_id = ?`, bookID)
	return n, err
}
