/*
errors.go - Centralized error kinds for the circulation engine

PURPOSE:
  All precondition failures in one place. Every failed precondition aborts the
  transaction and surfaces exactly one Kind to the caller; nothing is retried
  internally.

ERROR CATEGORIES:
  1. Schedule errors    - OutsideServiceHours
  2. Actor errors       - InvalidOperator, InvalidRecipient, SelfLoanForbidden
  3. Stock errors       - BookUnavailable, InsufficientStock
  4. Eligibility errors - RecipientSanctioned, LoanLimitExceeded, RenewalLimitReached
  5. Duplicate errors   - DuplicateActiveLoan, DuplicateReservation, Duplicate
  6. Stale identifiers  - LoanNotFoundOrClosed, ReservationNotFound, SanctionNotFound, ...
  7. Infrastructure     - connection/driver failures, reported as ErrInfrastructure

USAGE:
  Sentinels compare with errors.Is; structured errors carry context:

    if errors.Is(err, circulation.ErrInsufficientStock) {
        var se *circulation.InsufficientStockError
        if errors.As(err, &se) { ... se.Available ... }
    }

  KindOf(err) returns the discriminant for transport layers.

SEE ALSO:
  - api/errors.go: Kind -> HTTP status mapping
*/
package circulation

import (
	"errors"
	"fmt"
)

// Kind discriminates domain failures.
type Kind string

const (
	KindOutsideServiceHours   Kind = "outside_service_hours"
	KindInvalidArgument       Kind = "invalid_argument"
	KindSelfLoanForbidden     Kind = "self_loan_forbidden"
	KindInvalidOperator       Kind = "invalid_operator"
	KindInvalidRecipient      Kind = "invalid_recipient"
	KindBookUnavailable       Kind = "book_unavailable"
	KindInsufficientStock     Kind = "insufficient_stock"
	KindRecipientSanctioned   Kind = "recipient_sanctioned"
	KindLoanLimitExceeded     Kind = "loan_limit_exceeded"
	KindRenewalLimitReached   Kind = "renewal_limit_reached"
	KindDuplicateActiveLoan   Kind = "duplicate_active_loan"
	KindDuplicateReservation  Kind = "duplicate_reservation"
	KindLoanNotFoundOrClosed  Kind = "loan_not_found_or_closed"
	KindReservationNotFound   Kind = "reservation_not_found"
	KindSanctionNotFound      Kind = "sanction_not_found"
	KindBookNotFound          Kind = "book_not_found"
	KindUserNotFound          Kind = "user_not_found"
	KindParamNotFound         Kind = "param_not_found"
	KindParamNotEditable      Kind = "param_not_editable"
	KindBookInUse             Kind = "book_in_use"
	KindStockBelowActiveLoans Kind = "stock_below_active_loans"
	KindDuplicate             Kind = "duplicate"
	KindInvalidCredentials    Kind = "invalid_credentials"
	KindInfrastructure        Kind = "infrastructure"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrOutsideServiceHours   = errors.New("outside service hours")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrSelfLoanForbidden     = errors.New("operator cannot lend to themself")
	ErrInvalidOperator       = errors.New("invalid operator")
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrBookUnavailable       = errors.New("book not found or inactive")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrRecipientSanctioned   = errors.New("recipient has a vigent sanction")
	ErrLoanLimitExceeded     = errors.New("active loan limit exceeded")
	ErrRenewalLimitReached   = errors.New("renewal limit reached")
	ErrDuplicateActiveLoan   = errors.New("user already holds an active loan of this book")
	ErrDuplicateReservation  = errors.New("user already holds a pending reservation of this book")
	ErrLoanNotFoundOrClosed  = errors.New("loan not found or already closed")
	ErrReservationNotFound   = errors.New("reservation not found or no longer pending")
	ErrSanctionNotFound      = errors.New("sanction not found or not active")
	ErrBookNotFound          = errors.New("book not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrParamNotFound         = errors.New("configuration parameter not found")
	ErrParamNotEditable      = errors.New("configuration parameter is not editable")
	ErrBookInUse             = errors.New("book has loan history or pending reservations")
	ErrStockBelowActiveLoans = errors.New("total copies below actively loaned quantity")
	ErrDuplicate             = errors.New("duplicate value")
	ErrInvalidCredentials    = errors.New("invalid credentials")

	// ErrInfrastructure wraps failures that are not domain preconditions
	// (connection loss, driver errors). The transaction was rolled back.
	ErrInfrastructure = errors.New("infrastructure failure")
)

var sentinels = map[Kind]error{
	KindOutsideServiceHours:   ErrOutsideServiceHours,
	KindInvalidArgument:       ErrInvalidArgument,
	KindSelfLoanForbidden:     ErrSelfLoanForbidden,
	KindInvalidOperator:       ErrInvalidOperator,
	KindInvalidRecipient:      ErrInvalidRecipient,
	KindBookUnavailable:       ErrBookUnavailable,
	KindInsufficientStock:     ErrInsufficientStock,
	KindRecipientSanctioned:   ErrRecipientSanctioned,
	KindLoanLimitExceeded:     ErrLoanLimitExceeded,
	KindRenewalLimitReached:   ErrRenewalLimitReached,
	KindDuplicateActiveLoan:   ErrDuplicateActiveLoan,
	KindDuplicateReservation:  ErrDuplicateReservation,
	KindLoanNotFoundOrClosed:  ErrLoanNotFoundOrClosed,
	KindReservationNotFound:   ErrReservationNotFound,
	KindSanctionNotFound:      ErrSanctionNotFound,
	KindBookNotFound:          ErrBookNotFound,
	KindUserNotFound:          ErrUserNotFound,
	KindParamNotFound:         ErrParamNotFound,
	KindParamNotEditable:      ErrParamNotEditable,
	KindBookInUse:             ErrBookInUse,
	KindStockBelowActiveLoans: ErrStockBelowActiveLoans,
	KindDuplicate:             ErrDuplicate,
	KindInvalidCredentials:    ErrInvalidCredentials,
	KindInfrastructure:        ErrInfrastructure,
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RuleError is a precondition failure with the operation and a detail message.
type RuleError struct {
	Kind   Kind
	Op     string
	Detail string
}

func (e *RuleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, sentinels[e.Kind])
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, sentinels[e.Kind], e.Detail)
}

func (e *RuleError) Unwrap() error { return sentinels[e.Kind] }

func ruleErr(op string, kind Kind, format string, args ...any) error {
	return &RuleError{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	BookID    int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for book %d: available %d, requested %d",
		e.BookID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// LoanLimitError provides details about an exceeded per-role loan limit.
type LoanLimitError struct {
	UserID int64
	Role   Role
	Active int
	Max    int
}

func (e *LoanLimitError) Error() string {
	return fmt.Sprintf("user %d (%s) has %d active loans, limit is %d",
		e.UserID, e.Role, e.Active, e.Max)
}

func (e *LoanLimitError) Unwrap() error { return ErrLoanLimitExceeded }

// RenewalLimitError provides details about an exhausted renewal budget.
type RenewalLimitError struct {
	LoanID   int64
	Renewals int
	Max      int
}

func (e *RenewalLimitError) Error() string {
	return fmt.Sprintf("loan %d renewed %d times, limit is %d", e.LoanID, e.Renewals, e.Max)
}

func (e *RenewalLimitError) Unwrap() error { return ErrRenewalLimitReached }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the Kind of a domain or infrastructure error, or "" when err
// is nil or unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var re *RuleError
	if errors.As(err, &re) {
		return re.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// IsDomain reports whether err is a precondition failure (not infrastructure).
func IsDomain(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindInfrastructure
}

// IsNotFound returns true if the caller passed a stale or unknown identifier.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindLoanNotFoundOrClosed, KindReservationNotFound, KindSanctionNotFound,
		KindBookNotFound, KindUserNotFound, KindParamNotFound:
		return true
	}
	return false
}

// IsConflict returns true if the failure depends on current ledger state that
// another operation must change first.
func IsConflict(err error) bool {
	switch KindOf(err) {
	case KindDuplicateActiveLoan, KindDuplicateReservation, KindDuplicate,
		KindBookInUse, KindInsufficientStock, KindBookUnavailable,
		KindLoanLimitExceeded, KindRenewalLimitReached, KindStockBelowActiveLoans:
		return true
	}
	return false
}

// IsRetryable returns true if the same call might succeed later without any
// change by the caller (stock returning, the service window opening).
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindInsufficientStock, KindOutsideServiceHours, KindInfrastructure:
		return true
	}
	return false
}

// infraErr wraps a non-domain failure at the engine boundary.
func infraErr(op string, err error) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}
