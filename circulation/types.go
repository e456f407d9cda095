/*
Package circulation provides the loan, reservation and sanction lifecycle engine
of the library.

PURPOSE:
  Governs how a book's stock, a user's borrowing eligibility and the sanctions a
  user accrues evolve together. Every mutation runs inside one store
  transaction: either the stock change, the loan row, the sanction rows and the
  user flag commit together, or nothing does.

KEY CONCEPTS IN THIS FILE (types.go):
  - Role: closed set of user roles (student, teacher, librarian, admin)
  - Book: catalog entry with total/available copy counters
  - User: borrower or operator, with the aggregate "sanctioned until" flag
  - Loan, Reservation, Sanction: lifecycle records and their states

TIMESTAMPS:
  All timestamps are Unix epoch seconds (int64), matching the persisted schema.
  A zero sanction end means "indefinite".

STOCK MODEL:
  Lending a book subtracts the lent quantity from BOTH available and total
  copies: total counts the copies physically on the shelves, not the copies
  owned. Returning in good state adds them back to both. Damaged or lost
  copies never come back.

SEE ALSO:
  - loans.go: Loan lifecycle (register, renew, return, cancel)
  - reservations.go: Reservation lifecycle (create, fulfill, cancel, expire)
  - sanctions.go: Sanction ledger (manual, condone, pay)
  - store.go: Persistence interfaces
*/
package circulation

import (
	"github.com/shopspring/decimal"
)

// SecondsPerDay is the day length used by every day-count computation.
const SecondsPerDay int64 = 86400

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleStudent   Role = "student"
	RoleTeacher   Role = "teacher"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleLibrarian, RoleAdmin:
		return true
	}
	return false
}

// IsBorrower reports whether users with this role may receive loans and reservations.
func (r Role) IsBorrower() bool { return r == RoleStudent || r == RoleTeacher }

// =============================================================================
// CATALOG
// =============================================================================

type Author struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Nationality string `db:"nationality" json:"nationality"`
}

type Category struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

// Book is a catalog entry. Invariant: 0 <= AvailableCopies <= TotalCopies.
type Book struct {
	ID              int64   `db:"id"`
	Title           string  `db:"title"`
	AuthorID        *int64  `db:"author_id"`
	CategoryID      *int64  `db:"category_id"`
	Publisher       string  `db:"publisher"`
	Year            int     `db:"year"`
	ISBN            *string `db:"isbn"`
	TotalCopies     int     `db:"total_copies"`
	AvailableCopies int     `db:"available_copies"`
	Active          bool    `db:"active"`
	CreatedAt       int64   `db:"created_at"`
}

// =============================================================================
// USERS
// =============================================================================

type User struct {
	ID           int64   `db:"id"`
	Username     string  `db:"username"`
	PasswordHash string  `db:"password_hash"`
	Role         Role    `db:"role"`
	FullName     string  `db:"full_name"`
	Email        *string `db:"email"`
	Active       bool    `db:"active"`
	Validated    bool    `db:"validated"`
	ValidatedBy  *int64  `db:"validated_by"`
	ValidatedAt  *int64  `db:"validated_at"`
	Sanctioned   bool    `db:"sanctioned"`
	SanctionEnd  int64   `db:"sanction_end"`
	CreatedAt    int64   `db:"created_at"`
}

// SanctionVigent reports whether the user is currently blocked by a sanction.
// This is the only place vigency is decided; the flag alone is never trusted
// because it is not cleared when a sanction ends naturally.
func (u *User) SanctionVigent(now int64) bool {
	return u.Sanctioned && (u.SanctionEnd == 0 || u.SanctionEnd > now)
}

// CanAuthenticate reports whether the user may log in.
func (u *User) CanAuthenticate() bool { return u.Validated && u.Active }

// CanOperate reports whether the user may register loans, returns and
// sanctions on behalf of the library: active, validated admins and
// librarians.
func (u *User) CanOperate() bool {
	if !u.Active || !u.Validated {
		return false
	}
	return u.Role == RoleAdmin || u.Role == RoleLibrarian
}

// =============================================================================
// LOANS
// =============================================================================

type LoanState string

const (
	LoanActive   LoanState = "active"
	LoanReturned LoanState = "returned"
	LoanDamaged  LoanState = "damaged"
	LoanLost     LoanState = "lost"
)

// IsReturnState reports whether s is a valid terminal state for a return.
func (s LoanState) IsReturnState() bool {
	return s == LoanReturned || s == LoanDamaged || s == LoanLost
}

type Loan struct {
	ID         int64     `db:"id"`
	BookID     int64     `db:"book_id"`
	UserID     int64     `db:"user_id"`
	OperatorID int64     `db:"operator_id"`
	LoanedAt   int64     `db:"loaned_at"`
	DueAt      int64     `db:"due_at"`
	ReturnedAt *int64    `db:"returned_at"`
	State      LoanState `db:"state"`
	Renewals   int       `db:"renewals"`
	Quantity   int       `db:"quantity"`
	Notes      string    `db:"notes"`
}

// Overdue reports whether an active loan is past its due time.
func (l *Loan) Overdue(now int64) bool { return l.State == LoanActive && now > l.DueAt }

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationCompleted ReservationState = "completed"
	ReservationCancelled ReservationState = "cancelled"
	ReservationExpired   ReservationState = "expired"
)

type Reservation struct {
	ID         int64            `db:"id"`
	BookID     int64            `db:"book_id"`
	UserID     int64            `db:"user_id"`
	ReservedAt int64            `db:"reserved_at"`
	ExpiresAt  int64            `db:"expires_at"`
	State      ReservationState `db:"state"`
}

// =============================================================================
// SANCTIONS
// =============================================================================

type SanctionState string

const (
	SanctionActive   SanctionState = "active"
	SanctionPaid     SanctionState = "paid"
	SanctionCondoned SanctionState = "condoned"
)

type Sanction struct {
	ID       int64           `db:"id"`
	UserID   int64           `db:"user_id"`
	LoanID   *int64          `db:"loan_id"`
	StartsAt int64           `db:"starts_at"`
	EndsAt   int64           `db:"ends_at"`
	Reason   string          `db:"reason"`
	Amount   decimal.Decimal `db:"amount"`
	State    SanctionState   `db:"state"`
}

// Vigent reports whether the sanction is active and not yet over.
func (s *Sanction) Vigent(now int64) bool {
	return s.State == SanctionActive && (s.EndsAt == 0 || s.EndsAt > now)
}
