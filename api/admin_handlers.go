package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/store/sqlite"
)

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

func (h *Handler) ListConfig(w http.ResponseWriter, r *http.Request) {
	params, err := h.Store.ListParams(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list configuration", err)
		return
	}
	dtos := make([]ConfigParamDTO, len(params))
	for i, p := range params {
		dtos[i] = ConfigParamDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetConfig changes an editable parameter. The next engine operation sees
// the new value.
func (h *Handler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var req SetParamRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	name := chi.URLParam(r, "name")
	param, err := h.Store.SetParam(r.Context(), name, req.Value)
	if err != nil {
		h.fail(w, r, "Failed to update configuration", err)
		return
	}
	h.Log.InfoContext(r.Context(), "configuration changed",
		"name", param.Name, "value", param.Value)
	writeJSON(w, http.StatusOK, ConfigParamDTO(*param))
}

// GetServiceWindow reports the loan desk hours and whether they are open now.
func (h *Handler) GetServiceWindow(w http.ResponseWriter, r *http.Request) {
	win := h.Library.Window()
	zone := "UTC"
	if win.Location != nil {
		zone = win.Location.String()
	}
	writeJSON(w, http.StatusOK, ServiceWindowDTO{
		Open:     win.Open.String(),
		Close:    win.Close.String(),
		Timezone: zone,
		OpenNow:  win.Contains(h.Library.Now()),
	})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Library.Reports.Summary(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) ReportActiveLoans(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Library.Reports.ActiveLoans(r.Context())
	writeReport(h, w, r, lines, err)
}

func (h *Handler) ReportOverdueLoans(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Library.Reports.OverdueLoans(r.Context())
	writeReport(h, w, r, lines, err)
}

// ReportLoans lists loans made between from and to (YYYY-MM-DD, both
// inclusive, in the service window's zone). Either bound may be omitted.
func (h *Handler) ReportLoans(w http.ResponseWriter, r *http.Request) {
	from, err := h.queryDate(r, "from", false)
	if err != nil {
		h.fail(w, r, "Invalid range", err)
		return
	}
	to, err := h.queryDate(r, "to", true)
	if err != nil {
		h.fail(w, r, "Invalid range", err)
		return
	}
	lines, err := h.Library.Reports.LoansBetween(r.Context(), from, to)
	writeReport(h, w, r, lines, err)
}

func (h *Handler) ReportSanctions(w http.ResponseWriter, r *http.Request) {
	state := circulation.SanctionState(r.URL.Query().Get("state"))
	lines, err := h.Library.Reports.Sanctions(r.Context(), state)
	writeReport(h, w, r, lines, err)
}

func (h *Handler) ReportReservations(w http.ResponseWriter, r *http.Request) {
	state := circulation.ReservationState(r.URL.Query().Get("state"))
	lines, err := h.Library.Reports.Reservations(r.Context(), state)
	writeReport(h, w, r, lines, err)
}

func (h *Handler) ReportStock(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Library.Reports.Stock(r.Context())
	writeReport(h, w, r, lines, err)
}

// writeReport writes report rows, never null.
func writeReport[T any](h *Handler, w http.ResponseWriter, r *http.Request, lines []T, err error) {
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}
	if lines == nil {
		lines = []T{}
	}
	writeJSON(w, http.StatusOK, lines)
}

// queryDate parses a YYYY-MM-DD parameter in the service window's zone.
// endOfDay returns the last second of that date instead of the first.
func (h *Handler) queryDate(r *http.Request, name string, endOfDay bool) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	loc := h.Library.Window().Location
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q (use YYYY-MM-DD)", circulation.ErrInvalidArgument, name, raw)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t.Unix(), nil
}

// =============================================================================
// NOTIFICATIONS & MAINTENANCE
// =============================================================================

// ListNotifications returns the outbox. Query: status, limit.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, r, "Invalid limit", fmt.Errorf("%w: limit %q", circulation.ErrInvalidArgument, v))
			return
		}
		limit = n
	}
	msgs, err := h.Store.ListOutbox(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		h.fail(w, r, "Failed to list notifications", err)
		return
	}
	if msgs == nil {
		msgs = []sqlite.OutboxMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// MarkNotificationSent flags an outbox message as delivered.
func (h *Handler) MarkNotificationSent(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.MarkSent(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to update notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunMaintenance expires stale reservations and clears lapsed sanction flags
// immediately instead of waiting for the next sweep.
func (h *Handler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	sweeper := h.Sweeper
	if sweeper == nil {
		sweeper = NewMaintenanceSweeper(h.Library, h.Log)
	}
	result, err := sweeper.RunNow(r.Context())
	if err != nil {
		h.fail(w, r, "Maintenance failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RunReminders queues due-soon, overdue and pending-reservation notices in
// the outbox. Query: days overrides reminder_days_before_due.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	var (
		run circulation.ReminderRun
		err error
	)
	if v := r.URL.Query().Get("days"); v != "" {
		days, convErr := strconv.Atoi(v)
		if convErr != nil {
			h.fail(w, r, "Invalid days", fmt.Errorf("%w: days %q", circulation.ErrInvalidArgument, v))
			return
		}
		run, err = h.Library.Reminders.SendWithin(r.Context(), days)
	} else {
		run, err = h.Library.Reminders.SendAll(r.Context())
	}
	if err != nil {
		h.fail(w, r, "Failed to send reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
