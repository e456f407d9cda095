package sqlite

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// SANCTION STORE
// =============================================================================

const sanctionColumns = `id, user_id, loan_id, starts_at, ends_at, reason, amount, state`

func getSanction(ctx context.Context, q sqlx.QueryerContext, id int64) (*circulation.Sanction, error) {
	sn, err := one[circulation.Sanction](ctx, q, `SELECT `+sanctionColumns+` FROM sanctions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get sanction %d: %w", id, err)
	}
	return sn, nil
}

func (s *Store) GetSanction(ctx context.Context, id int64) (*circulation.Sanction, error) {
	return read(s, func(q sqlx.ExtContext) (*circulation.Sanction, error) { return getSanction(ctx, q, id) })
}

// ListSanctions returns sanctions, newest first.
func (s *Store) ListSanctions(ctx context.Context, f circulation.SanctionFilter) ([]circulation.Sanction, error) {
	ds := dialect.From("sanctions").
		Select("id", "user_id", "loan_id", "starts_at", "ends_at", "reason", "amount", "state").
		Order(goqu.C("starts_at").Desc(), goqu.C("id").Desc())
	if f.UserID != nil {
		ds = ds.Where(goqu.C("user_id").Eq(*f.UserID))
	}
	if f.State != "" {
		ds = ds.Where(goqu.C("state").Eq(string(f.State)))
	}
	ds = page(ds, f.Limit, f.Offset)

	return read(s, func(q sqlx.ExtContext) ([]circulation.Sanction, error) {
		var out []circulation.Sanction
		if err := selectDataset(ctx, q, &out, ds); err != nil {
			return nil, fmt.Errorf("list sanctions: %w", err)
		}
		return out, nil
	})
}

// --- transaction side (circulation.SanctionTx) ---

func (ts *txStore) LockSanction(ctx context.Context, id int64) (*circulation.Sanction, error) {
	return getSanction(ctx, ts.tx, id)
}

func (ts *txStore) InsertSanction(ctx context.Context, sn *circulation.Sanction) (int64, error) {
	id, err := lastID(sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO sanctions (user_id, loan_id, starts_at, ends_at, reason, amount, state)
		VALUES (:user_id, :loan_id, :starts_at, :ends_at, :reason, :amount, :state)`, sn))
	return id, classify("insert sanction", err)
}

func (ts *txStore) UpdateSanction(ctx context.Context, sn *circulation.Sanction) error {
	err := exactlyOne(sqlx.NamedExecContext(ctx, ts.tx, `
		UPDATE sanctions SET ends_at = :ends_at, state = :state WHERE id = :id`, sn))
	return classify(fmt.Sprintf("update sanction %d", sn.ID), err)
}

func (ts *txStore) ListUserSanctions(ctx context.Context, userID int64, state circulation.SanctionState) ([]circulation.Sanction, error) {
	var out []circulation.Sanction
	err := ts.tx.SelectContext(ctx, &out,
		`SELECT `+sanctionColumns+` FROM sanctions WHERE user_id = ? AND state = ? ORDER BY id`,
		userID, string(state))
	return out, err
}
