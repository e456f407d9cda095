package sqlite

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// CATALOG STORE
// =============================================================================

const bookColumns = `id, title, author_id, category_id, publisher, year, isbn,
	total_copies, available_copies, active, created_at`

func getBook(ctx context.Context, q sqlx.QueryerContext, id int64) (*circulation.Book, error) {
	b, err := one[circulation.Book](ctx, q, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return b, nil
}

// GetBook returns a book, or nil when it does not exist.
func (s *Store) GetBook(ctx context.Context, id int64) (*circulation.Book, error) {
	return read(s, func(q sqlx.ExtContext) (*circulation.Book, error) { return getBook(ctx, q, id) })
}

// ListBooks returns catalog entries ordered by title.
func (s *Store) ListBooks(ctx context.Context, f circulation.BookFilter) ([]circulation.Book, error) {
	ds := dialect.From(goqu.T("books").As("b")).
		LeftJoin(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id")))).
		Select(
			goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author_id"), goqu.I("b.category_id"),
			goqu.I("b.publisher"), goqu.I("b.year"), goqu.I("b.isbn"), goqu.I("b.total_copies"),
			goqu.I("b.available_copies"), goqu.I("b.active"), goqu.I("b.created_at"),
		).
		Order(goqu.I("b.title").Asc(), goqu.I("b.id").Asc())
	if f.ActiveOnly {
		ds = ds.Where(goqu.I("b.active").IsTrue())
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		ds = ds.Where(goqu.Or(
			goqu.I("b.title").Like(like),
			goqu.I("b.isbn").Like(like),
			goqu.I("a.name").Like(like),
		))
	}
	ds = page(ds, f.Limit, f.Offset)

	return read(s, func(q sqlx.ExtContext) ([]circulation.Book, error) {
		var books []circulation.Book
		if err := selectDataset(ctx, q, &books, ds); err != nil {
			return nil, fmt.Errorf("list books: %w", err)
		}
		return books, nil
	})
}

// ListAuthors returns every author by name.
func (s *Store) ListAuthors(ctx context.Context) ([]circulation.Author, error) {
	return read(s, func(q sqlx.ExtContext) ([]circulation.Author, error) {
		var out []circulation.Author
		err := sqlx.SelectContext(ctx, q, &out, `SELECT id, name, nationality FROM authors ORDER BY name`)
		return out, err
	})
}

// ListCategories returns every category by name.
func (s *Store) ListCategories(ctx context.Context) ([]circulation.Category, error) {
	return read(s, func(q sqlx.ExtContext) ([]circulation.Category, error) {
		var out []circulation.Category
		err := sqlx.SelectContext(ctx, q, &out, `SELECT id, name, description FROM categories ORDER BY name`)
		return out, err
	})
}

// --- transaction side (circulation.BookTx) ---

func (ts *txStore) LockBook(ctx context.Context, id int64) (*circulation.Book, error) {
	return getBook(ctx, ts.tx, id)
}

func (ts *txStore) InsertBook(ctx context.Context, b *circulation.Book) (int64, error) {
	id, err := lastID(sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO books (title, author_id, category_id, publisher, year, isbn,
			total_copies, available_copies, active, created_at)
		VALUES (:title, :author_id, :category_id, :publisher, :year, :isbn,
			:total_copies, :available_copies, :active, :created_at)`, b))
	return id, classify("insert book", err)
}

func (ts *txStore) UpdateBook(ctx context.Context, b *circulation.Book) error {
	err := exactlyOne(sqlx.NamedExecContext(ctx, ts.tx, `
		UPDATE books SET title = :title, author_id = :author_id, category_id = :category_id,
			publisher = :publisher, year = :year, isbn = :isbn, total_copies = :total_copies,
			available_copies = :available_copies, active = :active
		WHERE id = :id`, b))
	return classify(fmt.Sprintf("update book %d", b.ID), err)
}

func (ts *txStore) DeleteBook(ctx context.Context, id int64) error {
	err := exactlyOne(ts.tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id))
	return classify(fmt.Sprintf("delete book %d", id), err)
}

// AdjustStock adds delta to both counters. The CHECK constraint rejects a
// result outside 0 <= available <= total.
func (ts *txStore) AdjustStock(ctx context.Context, bookID int64, delta int) error {
	err := exactlyOne(ts.tx.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + ?, total_copies = total_copies + ?
		WHERE id = ?`, delta, delta, bookID))
	return classify(fmt.Sprintf("adjust stock of book %d", bookID), err)
}

func (ts *txStore) InsertAuthor(ctx context.Context, a *circulation.Author) (int64, error) {
	id, err := lastID(ts.tx.ExecContext(ctx,
		`INSERT INTO authors (name, nationality) VALUES (?, ?)`, a.Name, a.Nationality))
	return id, classify("insert author", err)
}

func (ts *txStore) InsertCategory(ctx context.Context, c *circulation.Category) (int64, error) {
	id, err := lastID(ts.tx.ExecContext(ctx,
		`INSERT INTO categories (name, description) VALUES (?, ?)`, c.Name, c.Description))
	return id, classify("insert category", err)
}

func (ts *txStore) ISBNTaken(ctx context.Context, isbn string, exceptBookID int64) (bool, error) {
	var n int
	err := ts.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM books WHERE isbn = ? AND id != ?`, isbn, exceptBookID)
	return n > 0, err
}
