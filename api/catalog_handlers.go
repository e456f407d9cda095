package api

import (
	"net/http"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks returns catalog entries. Query: q, active=true, limit, offset.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := queryPage(r)
	if err != nil {
		h.fail(w, r, "Invalid paging", err)
		return
	}
	books, err := h.Library.Catalog.ListBooks(r.Context(), circulation.BookFilter{
		Search:     r.URL.Query().Get("q"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.fail(w, r, "Failed to list books", err)
		return
	}

	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBook adds a catalog entry.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	book, err := h.Library.Catalog.CreateBook(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, "Failed to create book", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookDTO(*book))
}

// GetBook returns one catalog entry.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid book id", err)
		return
	}
	book, err := h.Library.Catalog.GetBook(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Book not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(*book))
}

// UpdateBook edits a catalog entry. total_copies counts copies on the shelf
// plus those on active loan.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid book id", err)
		return
	}
	var req BookRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	book, err := h.Library.Catalog.UpdateBook(r.Context(), id, req.input())
	if err != nil {
		h.fail(w, r, "Failed to update book", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(*book))
}

// SetBookActive activates or retires a book.
func (h *Handler) SetBookActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid book id", err)
		return
	}
	var req SetActiveRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	book, err := h.Library.Catalog.SetBookActive(r.Context(), id, req.Active)
	if err != nil {
		h.fail(w, r, "Failed to change book status", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(*book))
}

// DeleteBook removes a book that was never lent and has no pending
// reservations.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid book id", err)
		return
	}
	if err := h.Library.Catalog.DeleteBook(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete book", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBookReservations returns the pending queue of a book.
func (h *Handler) GetBookReservations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "Invalid book id", err)
		return
	}
	res, err := h.Library.Reservations.ListPending(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to list reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, reservationDTOs(res))
}

// =============================================================================
// AUTHOR & CATEGORY HANDLERS
// =============================================================================

func (h *Handler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.Library.Catalog.ListAuthors(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list authors", err)
		return
	}
	if authors == nil {
		authors = []circulation.Author{}
	}
	writeJSON(w, http.StatusOK, authors)
}

func (h *Handler) CreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req CreateAuthorRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	author, err := h.Library.Catalog.CreateAuthor(r.Context(), req.Name, req.Nationality)
	if err != nil {
		h.fail(w, r, "Failed to create author", err)
		return
	}
	writeJSON(w, http.StatusCreated, author)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Library.Catalog.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list categories", err)
		return
	}
	if categories == nil {
		categories = []circulation.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	category, err := h.Library.Catalog.CreateCategory(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, r, "Failed to create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}
