package sqlite

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// USER STORE
// =============================================================================

const userColumns = `id, username, password_hash, role, full_name, email, active, validated,
	validated_by, validated_at, sanctioned, sanction_end, created_at`

func getUser(ctx context.Context, q sqlx.QueryerContext, id int64) (*circulation.User, error) {
	u, err := one[circulation.User](ctx, q, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*circulation.User, error) {
	return read(s, func(q sqlx.ExtContext) (*circulation.User, error) { return getUser(ctx, q, id) })
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*circulation.User, error) {
	return read(s, func(q sqlx.ExtContext) (*circulation.User, error) {
		return one[circulation.User](ctx, q, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	})
}

// ListUsers returns users ordered by username.
func (s *Store) ListUsers(ctx context.Context, f circulation.UserFilter) ([]circulation.User, error) {
	ds := dialect.From("users").
		Select(
			"id", "username", "password_hash", "role", "full_name", "email", "active", "validated",
			"validated_by", "validated_at", "sanctioned", "sanction_end", "created_at",
		).
		Order(goqu.C("username").Asc())
	if f.Role != "" {
		ds = ds.Where(goqu.C("role").Eq(string(f.Role)))
	}
	if f.ActiveOnly {
		ds = ds.Where(goqu.C("active").IsTrue())
	}
	if f.SanctionedOnly {
		ds = ds.Where(goqu.C("sanctioned").IsTrue())
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		ds = ds.Where(goqu.Or(goqu.C("username").Like(like), goqu.C("full_name").Like(like)))
	}
	ds = page(ds, f.Limit, f.Offset)

	return read(s, func(q sqlx.ExtContext) ([]circulation.User, error) {
		var users []circulation.User
		if err := selectDataset(ctx, q, &users, ds); err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		return users, nil
	})
}

// --- transaction side (circulation.UserTx) ---

func (ts *txStore) LockUser(ctx context.Context, id int64) (*circulation.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) InsertUser(ctx context.Context, u *circulation.User) (int64, error) {
	id, err := lastID(sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO users (username, password_hash, role, full_name, email, active, validated,
			validated_by, validated_at, sanctioned, sanction_end, created_at)
		VALUES (:username, :password_hash, :role, :full_name, :email, :active, :validated,
			:validated_by, :validated_at, :sanctioned, :sanction_end, :created_at)`, u))
	return id, classify("insert user", err)
}

// UpdateUserStatus writes the account flags (active, validated and who
// validated). The sanction columns are left alone.
func (ts *txStore) UpdateUserStatus(ctx context.Context, u *circulation.User) error {
	err := exactlyOne(sqlx.NamedExecContext(ctx, ts.tx, `
		UPDATE users SET active = :active, validated = :validated,
			validated_by = :validated_by, validated_at = :validated_at
		WHERE id = :id`, u))
	return classify(fmt.Sprintf("update user %d", u.ID), err)
}

func (ts *txStore) SetUserSanction(ctx context.Context, userID int64, sanctioned bool, end int64) error {
	err := exactlyOne(ts.tx.ExecContext(ctx,
		`UPDATE users SET sanctioned = ?, sanction_end = ? WHERE id = ?`, sanctioned, end, userID))
	return classify(fmt.Sprintf("set sanction of user %d", userID), err)
}

func (ts *txStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var n int
	err := ts.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE username = ?`, username)
	return n > 0, err
}
