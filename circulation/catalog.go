/*
catalog.go - Catalog and stock ledger administration

PURPOSE:
  Creates and edits authors, categories and books. Loans, returns and
  cancellations move stock through the loan engine; this file covers the
  administrative edits:

  - UpdateBook: the new total may not go below the quantity currently out on
    active loans, and available becomes new_total - active_loaned.
  - DeleteBook: only a book with no loan history and no pending
    reservations can be removed.

SEE ALSO:
  - loans.go: AdjustStock on register/return/cancel
*/
package circulation

import (
	"context"
	"log/slog"
	"strings"
)

// Catalog administers books, authors and categories.
type Catalog struct {
	*deps
}

// BookInput carries the editable fields of a book.
type BookInput struct {
	Title       string
	AuthorID    *int64
	CategoryID  *int64
	Publisher   string
	Year        int
	ISBN        *string
	TotalCopies int
}

func (in *BookInput) normalize(op string) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Publisher = strings.TrimSpace(in.Publisher)
	if in.ISBN != nil {
		isbn := strings.TrimSpace(*in.ISBN)
		if isbn == "" {
			in.ISBN = nil
		} else {
			in.ISBN = &isbn
		}
	}
	switch {
	case in.Title == "":
		return ruleErr(op, KindInvalidArgument, "title is required")
	case in.TotalCopies < 0:
		return ruleErr(op, KindInvalidArgument, "total copies must not be negative")
	case in.Year < 0:
		return ruleErr(op, KindInvalidArgument, "year must not be negative")
	}
	return nil
}

// CreateAuthor adds an author. Names are unique.
func (c *Catalog) CreateAuthor(ctx context.Context, name, nationality string) (*Author, error) {
	const op = "create author"
	a := &Author{Name: strings.TrimSpace(name), Nationality: strings.TrimSpace(nationality)}
	if a.Name == "" {
		return nil, ruleErr(op, KindInvalidArgument, "name is required")
	}
	err := c.run(ctx, op, func(tx Tx) error {
		var err error
		a.ID, err = tx.InsertAuthor(ctx, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateCategory adds a category. Names are unique.
func (c *Catalog) CreateCategory(ctx context.Context, name, description string) (*Category, error) {
	const op = "create category"
	cat := &Category{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if cat.Name == "" {
		return nil, ruleErr(op, KindInvalidArgument, "name is required")
	}
	err := c.run(ctx, op, func(tx Tx) error {
		var err error
		cat.ID, err = tx.InsertCategory(ctx, cat)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// CreateBook adds an active book with every copy available.
func (c *Catalog) CreateBook(ctx context.Context, in BookInput) (*Book, error) {
	const op = "create book"
	if err := in.normalize(op); err != nil {
		return nil, err
	}
	b := &Book{
		Title:           in.Title,
		AuthorID:        in.AuthorID,
		CategoryID:      in.CategoryID,
		Publisher:       in.Publisher,
		Year:            in.Year,
		ISBN:            in.ISBN,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
		Active:          true,
		CreatedAt:       c.now().Unix(),
	}
	err := c.run(ctx, op, func(tx Tx) error {
		if b.ISBN != nil {
			taken, err := tx.ISBNTaken(ctx, *b.ISBN, 0)
			if err != nil {
				return err
			}
			if taken {
				return ruleErr(op, KindDuplicate, "isbn %s already registered", *b.ISBN)
			}
		}
		var err error
		b.ID, err = tx.InsertBook(ctx, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("book created", slog.Int64("book_id", b.ID), slog.Int("copies", b.TotalCopies))
	return b, nil
}

// UpdateBook replaces the editable fields of a book. Available copies are
// recomputed from the new total and the quantity on active loans.
func (c *Catalog) UpdateBook(ctx context.Context, id int64, in BookInput) (*Book, error) {
	const op = "update book"
	if err := in.normalize(op); err != nil {
		return nil, err
	}

	var updated *Book
	err := c.run(ctx, op, func(tx Tx) error {
		b, err := tx.LockBook(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return ruleErr(op, KindBookNotFound, "book %d", id)
		}
		if in.ISBN != nil {
			taken, err := tx.ISBNTaken(ctx, *in.ISBN, b.ID)
			if err != nil {
				return err
			}
			if taken {
				return ruleErr(op, KindDuplicate, "isbn %s already registered", *in.ISBN)
			}
		}
		loaned, err := tx.ActiveLoanedQuantity(ctx, b.ID)
		if err != nil {
			return err
		}
		if in.TotalCopies < loaned {
			return ruleErr(op, KindStockBelowActiveLoans, "total %d, actively loaned %d", in.TotalCopies, loaned)
		}

		b.Title = in.Title
		b.AuthorID = in.AuthorID
		b.CategoryID = in.CategoryID
		b.Publisher = in.Publisher
		b.Year = in.Year
		b.ISBN = in.ISBN
		b.TotalCopies = in.TotalCopies
		b.AvailableCopies = in.TotalCopies - loaned
		if err := tx.UpdateBook(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("book updated",
		slog.Int64("book_id", updated.ID),
		slog.Int("total", updated.TotalCopies),
		slog.Int("available", updated.AvailableCopies))
	return updated, nil
}

// SetBookActive toggles whether a book can be lent or reserved.
func (c *Catalog) SetBookActive(ctx context.Context, id int64, active bool) (*Book, error) {
	const op = "set book active"
	var updated *Book
	err := c.run(ctx, op, func(tx Tx) error {
		b, err := tx.LockBook(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return ruleErr(op, KindBookNotFound, "book %d", id)
		}
		b.Active = active
		if err := tx.UpdateBook(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBook removes a book that has never been lent and has no pending
// reservations. Otherwise fails with BookInUse.
func (c *Catalog) DeleteBook(ctx context.Context, id int64) error {
	const op = "delete book"
	now := c.now().Unix()
	err := c.run(ctx, op, func(tx Tx) error {
		if _, err := tx.ExpireReservations(ctx, now); err != nil {
			return err
		}
		b, err := tx.LockBook(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return ruleErr(op, KindBookNotFound, "book %d", id)
		}
		loans, err := tx.CountLoansByBook(ctx, b.ID)
		if err != nil {
			return err
		}
		if loans > 0 {
			return ruleErr(op, KindBookInUse, "book %d has %d loans on record", b.ID, loans)
		}
		pending, err := tx.CountPendingReservations(ctx, b.ID, now)
		if err != nil {
			return err
		}
		if pending > 0 {
			return ruleErr(op, KindBookInUse, "book %d has %d pending reservations", b.ID, pending)
		}
		return tx.DeleteBook(ctx, b.ID)
	})
	if err != nil {
		return err
	}
	c.log.Info("book deleted", slog.Int64("book_id", id))
	return nil
}

// GetBook returns a book by ID.
func (c *Catalog) GetBook(ctx context.Context, id int64) (*Book, error) {
	b, err := c.store.GetBook(ctx, id)
	if err != nil {
		return nil, infraErr("get book", err)
	}
	if b == nil {
		return nil, ruleErr("get book", KindBookNotFound, "book %d", id)
	}
	return b, nil
}

func (c *Catalog) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	out, err := c.store.ListBooks(ctx, f)
	return out, infraErr("list books", err)
}

func (c *Catalog) ListAuthors(ctx context.Context) ([]Author, error) {
	out, err := c.store.ListAuthors(ctx)
	return out, infraErr("list authors", err)
}

func (c *Catalog) ListCategories(ctx context.Context) ([]Category, error) {
	out, err := c.store.ListCategories(ctx)
	return out, infraErr("list categories", err)
}
