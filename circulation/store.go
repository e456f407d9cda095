/*
store.go - Persistence interfaces for the circulation engine

PURPOSE:
  Defines the boundary between the lifecycle rules and the database. Every
  engine operation runs inside Store.WithTx: the store begins a transaction,
  hands the callback a Tx, commits if the callback returns nil and rolls back
  otherwise. No partial state is ever visible.

LOCKING:
  Lock* methods read a row with exclusive intent (SELECT ... FOR UPDATE on a
  row-locking backend). Concurrent operations on the same book or loan
  serialize on that lock; the loser re-reads the updated row.

NOT FOUND:
  Get and Lock methods return (nil, nil) when the row does not exist. The
  engine turns that into the right domain Kind for the operation.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via sqlx (write lock taken at BEGIN IMMEDIATE)

SEE ALSO:
  - loans.go, reservations.go, sanctions.go: callers
*/
package circulation

import "context"

// =============================================================================
// STORE - Transaction entry point plus read-only queries
// =============================================================================

// Store is the persistence root used by the engines.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Reader holds the read-only queries used outside transactions.
type Reader interface {
	GetBook(ctx context.Context, id int64) (*Book, error)
	ListBooks(ctx context.Context, f BookFilter) ([]Book, error)
	ListAuthors(ctx context.Context) ([]Author, error)
	ListCategories(ctx context.Context) ([]Category, error)

	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)

	GetLoan(ctx context.Context, id int64) (*Loan, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error)

	GetReservation(ctx context.Context, id int64) (*Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)

	GetSanction(ctx context.Context, id int64) (*Sanction, error)
	ListSanctions(ctx context.Context, f SanctionFilter) ([]Sanction, error)
}

// =============================================================================
// TX - Operations available inside a transaction
// =============================================================================

// Tx groups every read and write an engine may perform atomically.
type Tx interface {
	BookTx
	UserTx
	LoanTx
	ReservationTx
	SanctionTx
}

type BookTx interface {
	LockBook(ctx context.Context, id int64) (*Book, error)
	InsertBook(ctx context.Context, b *Book) (int64, error)
	UpdateBook(ctx context.Context, b *Book) error
	DeleteBook(ctx context.Context, id int64) error
	// AdjustStock adds delta to both available and total copies.
	AdjustStock(ctx context.Context, bookID int64, delta int) error
	InsertAuthor(ctx context.Context, a *Author) (int64, error)
	InsertCategory(ctx context.Context, c *Category) (int64, error)
	ISBNTaken(ctx context.Context, isbn string, exceptBookID int64) (bool, error)
}

type UserTx interface {
	LockUser(ctx context.Context, id int64) (*User, error)
	InsertUser(ctx context.Context, u *User) (int64, error)
	UpdateUserStatus(ctx context.Context, u *User) error
	SetUserSanction(ctx context.Context, userID int64, sanctioned bool, end int64) error
	UsernameTaken(ctx context.Context, username string) (bool, error)
}

type LoanTx interface {
	LockLoan(ctx context.Context, id int64) (*Loan, error)
	InsertLoan(ctx context.Context, l *Loan) (int64, error)
	UpdateLoan(ctx context.Context, l *Loan) error
	DeleteLoan(ctx context.Context, id int64) error
	CountActiveLoans(ctx context.Context, userID int64) (int, error)
	HasActiveLoan(ctx context.Context, userID, bookID int64) (bool, error)
	// ActiveLoanedQuantity sums the quantity of active loans of a book.
	ActiveLoanedQuantity(ctx context.Context, bookID int64) (int, error)
	CountLoansByBook(ctx context.Context, bookID int64) (int, error)
}

type ReservationTx interface {
	// ExpireReservations moves every pending reservation with
	// expires_at < now to expired and returns how many changed.
	ExpireReservations(ctx context.Context, now int64) (int64, error)
	LockReservation(ctx context.Context, id int64) (*Reservation, error)
	InsertReservation(ctx context.Context, r *Reservation) (int64, error)
	SetReservationState(ctx context.Context, id int64, state ReservationState) error
	// CountPendingReservations counts pending, unexpired reservations of a book.
	CountPendingReservations(ctx context.Context, bookID, now int64) (int, error)
	HasPendingReservation(ctx context.Context, userID, bookID, now int64) (bool, error)
}

type SanctionTx interface {
	LockSanction(ctx context.Context, id int64) (*Sanction, error)
	InsertSanction(ctx context.Context, s *Sanction) (int64, error)
	UpdateSanction(ctx context.Context, s *Sanction) error
	ListUserSanctions(ctx context.Context, userID int64, state SanctionState) ([]Sanction, error)
}

// =============================================================================
// FILTERS
// =============================================================================

// BookFilter selects catalog entries. Zero values mean "any".
type BookFilter struct {
	Search     string // matches title, ISBN or author name
	ActiveOnly bool
	Limit      int
	Offset     int
}

type UserFilter struct {
	Role           Role
	ActiveOnly     bool
	SanctionedOnly bool
	Search         string // matches username or full name
	Limit          int
	Offset         int
}

type LoanFilter struct {
	UserID *int64
	BookID *int64
	State  LoanState
	// OverdueAt, when > 0, restricts to active loans with due_at < OverdueAt.
	OverdueAt int64
	// LoanedFrom/LoanedTo bound loaned_at, inclusive, when > 0.
	LoanedFrom int64
	LoanedTo   int64
	Limit      int
	Offset     int
}

type ReservationFilter struct {
	UserID *int64
	BookID *int64
	State  ReservationState
	Limit  int
	Offset int
}

type SanctionFilter struct {
	UserID *int64
	State  SanctionState
	Limit  int
	Offset int
}
