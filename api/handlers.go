/*
handlers.go - HTTP API handlers for the circulation engine

PURPOSE:
  Exposes the circulation engine via REST API. Handles HTTP request/response
  and JSON serialization, and delegates every rule to the circulation
  package. Handlers never touch the ledgers directly.

ENDPOINTS:
  Catalog (catalog_handlers.go):
    GET/POST   /api/books, /api/authors, /api/categories
    GET/PUT/DELETE /api/books/{id}, PUT /api/books/{id}/active

  Users (user_handlers.go):
    GET/POST   /api/users                           (POST: students and teachers)
    POST       /api/users/staff                     (librarians and admins, by an admin)
    POST       /api/users/{id}/validate, PUT /api/users/{id}/active
    POST       /api/auth/login

  Circulation (circulation_handlers.go):
    POST       /api/loans, /api/loans/{id}/renew, /api/loans/{id}/return
    DELETE     /api/loans/{id}                      (cancel erroneous entry)
    POST       /api/reservations, /api/reservations/{id}/fulfill|cancel
    POST       /api/sanctions, /api/sanctions/{id}/condone|pay

  Admin (admin_handlers.go):
    GET/PUT    /api/config, /api/config/{name}
    GET        /api/reports/*
    POST       /api/maintenance/run, /api/reminders/run

  Scenarios (scenarios.go):
    GET        /api/scenarios
    POST       /api/scenarios/load, /api/scenarios/reset

ACTORS:
  There are no sessions. Operations that need an acting user (operator,
  validator, issuer) take its ID in the request body.

ERROR HANDLING:
  Domain failures are returned as JSON with the failure kind and a status
  chosen by errors.go. Infrastructure failures are 500.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Kind -> HTTP status
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Library *circulation.Library
	Store   *sqlite.Store
	Sweeper *MaintenanceSweeper
	Log     *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over lib and the store backing it.
func NewHandler(lib *circulation.Library, store *sqlite.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		Library: lib,
		Store:   store,
		Log:     log,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		resp.Kind = string(circulation.KindOf(err))
	}
	writeJSON(w, status, resp)
}

// fail writes err with the status for its kind. Infrastructure details are
// logged, not returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.ErrorContext(r.Context(), message,
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		writeError(w, status, message, errors.New("internal error"))
		return
	}
	writeError(w, status, message, err)
}

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", circulation.ErrInvalidArgument, err)
	}
	return nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", circulation.ErrInvalidArgument, raw)
	}
	return id, nil
}

// queryID parses an optional numeric query parameter.
func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s %q", circulation.ErrInvalidArgument, name, raw)
	}
	return &id, nil
}

// queryPage reads limit/offset, defaulting to no limit.
func queryPage(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("%w: invalid limit %q", circulation.ErrInvalidArgument, v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: invalid offset %q", circulation.ErrInvalidArgument, v)
		}
	}
	return limit, offset, nil
}
