package sqlite

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// RESERVATION STORE
// =============================================================================

const reservationColumns = `id, book_id, user_id, reserved_at, expires_at, state`

func getReservation(ctx context.Context, q sqlx.QueryerContext, id int64) (*circulation.Reservation, error) {
	r, err := one[circulation.Reservation](ctx, q, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation %d: %w", id, err)
	}
	return r, nil
}

func (s *Store) GetReservation(ctx context.Context, id int64) (*circulation.Reservation, error) {
	return read(s, func(q sqlx.ExtContext) (*circulation.Reservation, error) { return getReservation(ctx, q, id) })
}

// ListReservations returns reservations, oldest first.
func (s *Store) ListReservations(ctx context.Context, f circulation.ReservationFilter) ([]circulation.Reservation, error) {
	ds := dialect.From("reservations").
		Select("id", "book_id", "user_id", "reserved_at", "expires_at", "state").
		Order(goqu.C("reserved_at").Asc(), goqu.C("id").Asc())
	if f.UserID != nil {
		ds = ds.Where(goqu.C("user_id").Eq(*f.UserID))
	}
	if f.BookID != nil {
		ds = ds.Where(goqu.C("book_id").Eq(*f.BookID))
	}
	if f.State != "" {
		ds = ds.Where(goqu.C("state").Eq(string(f.State)))
	}
	ds = page(ds, f.Limit, f.Offset)

	return read(s, func(q sqlx.ExtContext) ([]circulation.Reservation, error) {
		var out []circulation.Reservation
		if err := selectDataset(ctx, q, &out, ds); err != nil {
			return nil, fmt.Errorf("list reservations: %w", err)
		}
		return out, nil
	})
}

// --- transaction side (circulation.ReservationTx) ---

func (ts *txStore) ExpireReservations(ctx context.Context, now int64) (int64, error) {
	res, err := ts.tx.ExecContext(ctx,
		`UPDATE reservations SET state = 'expired' WHERE state = 'pending' AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("expire reservations: %w", err)
	}
	return res.RowsAffected()
}

func (ts *txStore) LockReservation(ctx context.Context, id int64) (*circulation.Reservation, error) {
	return getReservation(ctx, ts.tx, id)
}

func (ts *txStore) InsertReservation(ctx context.Context, r *circulation.Reservation) (int64, error) {
	id, err := lastID(sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO reservations (book_id, user_id, reserved_at, expires_at, state)
		VALUES (:book_id, :user_id, :reserved_at, :expires_at, :state)`, r))
	return id, classify("insert reservation", err)
}

func (ts *txStore) SetReservationState(ctx context.Context, id int64, state circulation.ReservationState) error {
	err := exactlyOne(ts.tx.ExecContext(ctx, `UPDATE reservations SET state = ? WHERE id = ?`, string(state), id))
	return classify(fmt.Sprintf("set state of reservation %d", id), err)
}

func (ts *txStore) CountPendingReservations(ctx context.Context, bookID, now int64) (int, error) {
	var n int
	err := ts.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM reservations
		WHERE book_id = ? AND state = 'pending' AND expires_at >= ?`, bookID, now)
	return n, err
}

func (ts *txStore) HasPendingReservation(ctx context.Context, userID, bookID, now int64) (bool, error) {
	var n int
	err := ts.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM reservations
		WHERE user_id = ? AND book_id = ? AND state = 'pending' AND expires_at >= ?`, userID, bookID, now)
	return n > 0, err
}
