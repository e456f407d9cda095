package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/circulation-engine/circulation"
)

func loanDTOs(loans []circulation.Loan, now int64) []LoanDTO {
	dtos := make([]LoanDTO, len(loans))
	for i, l := range loans {
		dtos[i] = toLoanDTO(l, now)
	}
	return dtos
}

func reservationDTOs(res []circulation.Reservation) []ReservationDTO {
	dtos := make([]ReservationDTO, len(res))
	for i, rv := range res {
		dtos[i] = toReservationDTO(rv)
	}
	return dtos
}

func sanctionDTOs(sanctions []circulation.Sanction, now int64) []SanctionDTO {
	dtos := make([]SanctionDTO, len(sanctions))
	for i, s := range sanctions {
		dtos[i] = toSanctionDTO(s, now)
	}
	return dtos
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns loans. Query: user_id, book_id, state, overdue=true,
// limit, offset.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	f := circulation.LoanFilter{State: circulation.LoanState(r.URL.Query().Get("state"))}
	var err error
	if f.UserID, err = queryID(r, "user_id"); err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	if f.BookID, err = queryID(r, "book_id"); err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	if f.Limit, f.Offset, err = queryPage(r); err != nil {
		h.fail(w, r, "Invalid paging", err)
		return
	}
	now := h.Library.Now().Unix()
	if r.URL.Query().Get("overdue") == "true" {
		f.OverdueAt = now
	}

	loans, err := h.Library.Loans.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, loanDTOs(loans, now))
}

// CreateLoan registers a loan on behalf of operator_id.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	loan, err := h.Library.Loans.Register(r.Context(), circulation.LoanRequest{
		BookID:      req.BookID,
		RecipientID: req.RecipientID,
		OperatorID:  req.OperatorID,
		Quantity:    qty,
	})
	if err != nil {
		h.fail(w, r, "Failed to register loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(*loan, h.Library.Now().Unix()))
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid loan id", err)
		return
	}
	loan, err := h.Library.Loans.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Loan not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan, h.Library.Now().Unix()))
}

// RenewLoan extends the due date of an active loan.
func (h *Handler) RenewLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid loan id", err)
		return
	}
	loan, err := h.Library.Loans.Renew(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to renew loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan, h.Library.Now().Unix()))
}

// ReturnLoan closes an active loan as returned, damaged or lost.
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid loan id", err)
		return
	}
	var req ReturnLoanRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	if req.State == "" {
		req.State = string(circulation.LoanReturned)
	}
	res, err := h.Library.Loans.Return(r.Context(), circulation.ReturnRequest{
		LoanID: id,
		State:  circulation.LoanState(req.State),
		Notes:  req.Notes,
	})
	if err != nil {
		h.fail(w, r, "Failed to return loan", err)
		return
	}
	now := h.Library.Now().Unix()
	writeJSON(w, http.StatusOK, ReturnDTO{
		Loan:      toLoanDTO(res.Loan, now),
		Sanctions: sanctionDTOs(res.Sanctions, now),
	})
}

// CancelLoan deletes an active loan registered by mistake and restores its
// copies.
func (h *Handler) CancelLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid loan id", err)
		return
	}
	if err := h.Library.Loans.CancelActive(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to cancel loan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// ListReservations returns reservations. Query: user_id, book_id, state,
// limit, offset.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	f := circulation.ReservationFilter{State: circulation.ReservationState(r.URL.Query().Get("state"))}
	var err error
	if f.UserID, err = queryID(r, "user_id"); err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	if f.BookID, err = queryID(r, "book_id"); err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	if f.Limit, f.Offset, err = queryPage(r); err != nil {
		h.fail(w, r, "Invalid paging", err)
		return
	}
	res, err := h.Library.Reservations.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, reservationDTOs(res))
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	res, err := h.Library.Reservations.Create(r.Context(), req.BookID, req.UserID)
	if err != nil {
		h.fail(w, r, "Failed to create reservation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(*res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid reservation id", err)
		return
	}
	res, err := h.Library.Reservations.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Reservation not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// FulfillReservation turns a pending reservation into a one-copy loan.
func (h *Handler) FulfillReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid reservation id", err)
		return
	}
	var req FulfillReservationRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	loan, err := h.Library.Reservations.Fulfill(r.Context(), id, req.OperatorID)
	if err != nil {
		h.fail(w, r, "Failed to fulfill reservation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(*loan, h.Library.Now().Unix()))
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid reservation id", err)
		return
	}
	if err := h.Library.Reservations.Cancel(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to cancel reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(circulation.ReservationCancelled)})
}

// =============================================================================
// SANCTION HANDLERS
// =============================================================================

// ListSanctions returns sanctions. Query: user_id, state, limit, offset.
func (h *Handler) ListSanctions(w http.ResponseWriter, r *http.Request) {
	f := circulation.SanctionFilter{State: circulation.SanctionState(r.URL.Query().Get("state"))}
	var err error
	if f.UserID, err = queryID(r, "user_id"); err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	if f.Limit, f.Offset, err = queryPage(r); err != nil {
		h.fail(w, r, "Invalid paging", err)
		return
	}
	sanctions, err := h.Library.Sanctions.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list sanctions", err)
		return
	}
	writeJSON(w, http.StatusOK, sanctionDTOs(sanctions, h.Library.Now().Unix()))
}

// CreateSanction issues a manual sanction. An empty amount means no fine.
func (h *Handler) CreateSanction(w http.ResponseWriter, r *http.Request) {
	var req CreateSanctionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	amount := decimal.Zero
	if s := strings.TrimSpace(req.Amount); s != "" {
		var err error
		if amount, err = decimal.NewFromString(s); err != nil {
			h.fail(w, r, "Invalid amount",
				fmt.Errorf("%w: amount %q", circulation.ErrInvalidArgument, req.Amount))
			return
		}
	}
	sanction, err := h.Library.Sanctions.CreateManual(r.Context(), circulation.ManualSanction{
		UserID:   req.UserID,
		IssuedBy: req.IssuedBy,
		Reason:   req.Reason,
		Days:     req.Days,
		Amount:   amount,
	})
	if err != nil {
		h.fail(w, r, "Failed to create sanction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSanctionDTO(*sanction, h.Library.Now().Unix()))
}

func (h *Handler) GetSanction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid sanction id", err)
		return
	}
	sanction, err := h.Library.Sanctions.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Sanction not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toSanctionDTO(*sanction, h.Library.Now().Unix()))
}

func (h *Handler) CondoneSanction(w http.ResponseWriter, r *http.Request) {
	h.closeSanction(w, r, h.Library.Sanctions.Condone, "Failed to condone sanction")
}

func (h *Handler) PaySanction(w http.ResponseWriter, r *http.Request) {
	h.closeSanction(w, r, h.Library.Sanctions.Pay, "Failed to record payment")
}

func (h *Handler) closeSanction(w http.ResponseWriter, r *http.Request,
	closeFn func(ctx context.Context, id int64) (*circulation.Sanction, error), message string) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid sanction id", err)
		return
	}
	sanction, err := closeFn(r.Context(), id)
	if err != nil {
		h.fail(w, r, message, err)
		return
	}
	writeJSON(w, http.StatusOK, toSanctionDTO(*sanction, h.Library.Now().Unix()))
}
