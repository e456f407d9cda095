/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - Hiding internal fields (password hashes)
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TIMESTAMPS:
  Every timestamp is Unix epoch seconds. Nullable ones are omitted when
  unset. Money is a decimal string with two places.

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

type BookDTO struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	AuthorID        *int64  `json:"author_id,omitempty"`
	CategoryID      *int64  `json:"category_id,omitempty"`
	Publisher       string  `json:"publisher"`
	Year            int     `json:"year"`
	ISBN            *string `json:"isbn,omitempty"`
	TotalCopies     int     `json:"total_copies"`
	AvailableCopies int     `json:"available_copies"`
	Active          bool    `json:"active"`
	CreatedAt       int64   `json:"created_at"`
}

func toBookDTO(b circulation.Book) BookDTO {
	return BookDTO{
		ID:              b.ID,
		Title:           b.Title,
		AuthorID:        b.AuthorID,
		CategoryID:      b.CategoryID,
		Publisher:       b.Publisher,
		Year:            b.Year,
		ISBN:            b.ISBN,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		Active:          b.Active,
		CreatedAt:       b.CreatedAt,
	}
}

// UserDTO never carries the password hash.
type UserDTO struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	Role        string  `json:"role"`
	FullName    string  `json:"full_name"`
	Email       *string `json:"email,omitempty"`
	Active      bool    `json:"active"`
	Validated   bool    `json:"validated"`
	ValidatedBy *int64  `json:"validated_by,omitempty"`
	ValidatedAt *int64  `json:"validated_at,omitempty"`
	Sanctioned  bool    `json:"sanctioned"`
	SanctionEnd int64   `json:"sanction_end"`
	// SanctionVigent is the live evaluation; Sanctioned may be stale.
	SanctionVigent bool  `json:"sanction_vigent"`
	CreatedAt      int64 `json:"created_at"`
}

func toUserDTO(u circulation.User, now int64) UserDTO {
	return UserDTO{
		ID:             u.ID,
		Username:       u.Username,
		Role:           string(u.Role),
		FullName:       u.FullName,
		Email:          u.Email,
		Active:         u.Active,
		Validated:      u.Validated,
		ValidatedBy:    u.ValidatedBy,
		ValidatedAt:    u.ValidatedAt,
		Sanctioned:     u.Sanctioned,
		SanctionEnd:    u.SanctionEnd,
		SanctionVigent: u.SanctionVigent(now),
		CreatedAt:      u.CreatedAt,
	}
}

type LoanDTO struct {
	ID         int64  `json:"id"`
	BookID     int64  `json:"book_id"`
	UserID     int64  `json:"user_id"`
	OperatorID int64  `json:"operator_id"`
	LoanedAt   int64  `json:"loaned_at"`
	DueAt      int64  `json:"due_at"`
	ReturnedAt *int64 `json:"returned_at,omitempty"`
	State      string `json:"state"`
	Renewals   int    `json:"renewals"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
	Overdue    bool   `json:"overdue"`
}

func toLoanDTO(l circulation.Loan, now int64) LoanDTO {
	return LoanDTO{
		ID:         l.ID,
		BookID:     l.BookID,
		UserID:     l.UserID,
		OperatorID: l.OperatorID,
		LoanedAt:   l.LoanedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		State:      string(l.State),
		Renewals:   l.Renewals,
		Quantity:   l.Quantity,
		Notes:      l.Notes,
		Overdue:    l.Overdue(now),
	}
}

type ReservationDTO struct {
	ID         int64  `json:"id"`
	BookID     int64  `json:"book_id"`
	UserID     int64  `json:"user_id"`
	ReservedAt int64  `json:"reserved_at"`
	ExpiresAt  int64  `json:"expires_at"`
	State      string `json:"state"`
}

func toReservationDTO(r circulation.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:         r.ID,
		BookID:     r.BookID,
		UserID:     r.UserID,
		ReservedAt: r.ReservedAt,
		ExpiresAt:  r.ExpiresAt,
		State:      string(r.State),
	}
}

type SanctionDTO struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	LoanID   *int64 `json:"loan_id,omitempty"`
	StartsAt int64  `json:"starts_at"`
	EndsAt   int64  `json:"ends_at"`
	Reason   string `json:"reason"`
	Amount   string `json:"amount"`
	State    string `json:"state"`
	Vigent   bool   `json:"vigent"`
}

func toSanctionDTO(s circulation.Sanction, now int64) SanctionDTO {
	return SanctionDTO{
		ID:       s.ID,
		UserID:   s.UserID,
		LoanID:   s.LoanID,
		StartsAt: s.StartsAt,
		EndsAt:   s.EndsAt,
		Reason:   s.Reason,
		Amount:   s.Amount.StringFixed(2),
		State:    string(s.State),
		Vigent:   s.Vigent(now),
	}
}

// ReturnDTO is the closed loan plus the sanctions the return created.
type ReturnDTO struct {
	Loan      LoanDTO       `json:"loan"`
	Sanctions []SanctionDTO `json:"sanctions"`
}

type ConfigParamDTO struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Editable    bool   `json:"editable"`
}

// ServiceWindowDTO describes when loan desk operations are accepted.
type ServiceWindowDTO struct {
	Open     string `json:"open"`
	Close    string `json:"close"`
	Timezone string `json:"timezone"`
	OpenNow  bool   `json:"open_now"`
}

// MaintenanceDTO reports one sweep.
type MaintenanceDTO struct {
	ExpiredReservations int64 `json:"expired_reservations"`
	ClearedSanctions    int   `json:"cleared_sanction_flags"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateAuthorRequest struct {
	Name        string `json:"name"`
	Nationality string `json:"nationality"`
}

type CreateCategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// BookRequest creates or edits a book.
type BookRequest struct {
	Title       string  `json:"title"`
	AuthorID    *int64  `json:"author_id"`
	CategoryID  *int64  `json:"category_id"`
	Publisher   string  `json:"publisher"`
	Year        int     `json:"year"`
	ISBN        *string `json:"isbn"`
	TotalCopies int     `json:"total_copies"`
}

func (b BookRequest) input() circulation.BookInput {
	return circulation.BookInput{
		Title:       b.Title,
		AuthorID:    b.AuthorID,
		CategoryID:  b.CategoryID,
		Publisher:   b.Publisher,
		Year:        b.Year,
		ISBN:        b.ISBN,
		TotalCopies: b.TotalCopies,
	}
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type RegisterUserRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Role     string  `json:"role"`
	FullName string  `json:"full_name"`
	Email    *string `json:"email"`
}

// RegisterStaffRequest creates a librarian or admin account on behalf of
// creator_id, which must be a validated admin.
type RegisterStaffRequest struct {
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	Role      string  `json:"role"`
	FullName  string  `json:"full_name"`
	Email     *string `json:"email"`
	CreatorID int64   `json:"creator_id"`
}

type ValidateUserRequest struct {
	ValidatorID int64 `json:"validator_id"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateLoanRequest lends one copy when quantity is absent.
type CreateLoanRequest struct {
	BookID      int64 `json:"book_id"`
	RecipientID int64 `json:"recipient_id"`
	OperatorID  int64 `json:"operator_id"`
	Quantity    *int  `json:"quantity,omitempty"`
}

type ReturnLoanRequest struct {
	State string `json:"state"`
	Notes string `json:"notes"`
}

type CreateReservationRequest struct {
	BookID int64 `json:"book_id"`
	UserID int64 `json:"user_id"`
}

type FulfillReservationRequest struct {
	OperatorID int64 `json:"operator_id"`
}

type CreateSanctionRequest struct {
	UserID   int64  `json:"user_id"`
	IssuedBy int64  `json:"issued_by"`
	Reason   string `json:"reason"`
	Days     int    `json:"days"`
	Amount   string `json:"amount"`
}

type SetParamRequest struct {
	Value string `json:"value"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}
