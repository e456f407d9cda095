package api

import (
	"fmt"
	"net/http"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns users. Query: role, active=true, sanctioned=true, q,
// limit, offset.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := queryPage(r)
	if err != nil {
		h.fail(w, r, "Invalid paging", err)
		return
	}
	q := r.URL.Query()
	users, err := h.Library.Users.List(r.Context(), circulation.UserFilter{
		Role:           circulation.Role(q.Get("role")),
		ActiveOnly:     q.Get("active") == "true",
		SanctionedOnly: q.Get("sanctioned") == "true",
		Search:         q.Get("q"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.fail(w, r, "Failed to list users", err)
		return
	}

	now := h.Library.Now().Unix()
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterUser creates an unvalidated student or teacher account. Staff
// accounts go through RegisterStaff.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	if role := circulation.Role(req.Role); role.Valid() && !role.IsBorrower() {
		h.fail(w, r, "Failed to register user",
			fmt.Errorf("%w: %s accounts are created by an admin", circulation.ErrInvalidOperator, role))
		return
	}
	user, err := h.Library.Users.Register(r.Context(), circulation.NewUser{
		Username: req.Username,
		Password: req.Password,
		Role:     circulation.Role(req.Role),
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		h.fail(w, r, "Failed to register user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user, h.Library.Now().Unix()))
}

// RegisterStaff creates a librarian or admin account, validated by the
// creating admin.
func (h *Handler) RegisterStaff(w http.ResponseWriter, r *http.Request) {
	var req RegisterStaffRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	if role := circulation.Role(req.Role); role != circulation.RoleLibrarian && role != circulation.RoleAdmin {
		h.fail(w, r, "Invalid role",
			fmt.Errorf("%w: staff role must be librarian or admin, got %q", circulation.ErrInvalidArgument, req.Role))
		return
	}
	user, err := h.Library.Users.Register(r.Context(), circulation.NewUser{
		Username:  req.Username,
		Password:  req.Password,
		Role:      circulation.Role(req.Role),
		FullName:  req.FullName,
		Email:     req.Email,
		CreatedBy: &req.CreatorID,
	})
	if err != nil {
		h.fail(w, r, "Failed to register staff account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user, h.Library.Now().Unix()))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid user id", err)
		return
	}
	user, err := h.Library.Users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "User not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user, h.Library.Now().Unix()))
}

// ValidateUser marks an account as validated by validator_id.
func (h *Handler) ValidateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid user id", err)
		return
	}
	var req ValidateUserRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	user, err := h.Library.Users.Validate(r.Context(), id, req.ValidatorID)
	if err != nil {
		h.fail(w, r, "Failed to validate user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user, h.Library.Now().Unix()))
}

func (h *Handler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid user id", err)
		return
	}
	var req SetActiveRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	user, err := h.Library.Users.SetActive(r.Context(), id, req.Active)
	if err != nil {
		h.fail(w, r, "Failed to change user status", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user, h.Library.Now().Unix()))
}

// GetUserLoans returns the loans of a user. Query: state.
func (h *Handler) GetUserLoans(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid user id", err)
		return
	}
	loans, err := h.Library.Loans.List(r.Context(), circulation.LoanFilter{
		UserID: &id,
		State:  circulation.LoanState(r.URL.Query().Get("state")),
	})
	if err != nil {
		h.fail(w, r, "Failed to list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, loanDTOs(loans, h.Library.Now().Unix()))
}

// GetUserSanctions returns the sanctions of a user. Query: state.
func (h *Handler) GetUserSanctions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid user id", err)
		return
	}
	sanctions, err := h.Library.Sanctions.List(r.Context(), circulation.SanctionFilter{
		UserID: &id,
		State:  circulation.SanctionState(r.URL.Query().Get("state")),
	})
	if err != nil {
		h.fail(w, r, "Failed to list sanctions", err)
		return
	}
	writeJSON(w, http.StatusOK, sanctionDTOs(sanctions, h.Library.Now().Unix()))
}

// Login checks credentials. There is no session; the client keeps the
// returned user.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	user, err := h.Library.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, "Login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user, h.Library.Now().Unix()))
}
