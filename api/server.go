/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the desk frontend

ROUTE GROUPS:
  /api/books, /api/authors, /api/categories    Catalog
  /api/users, /api/auth                        Accounts
  /api/loans, /api/reservations, /api/sanctions Circulation
  /api/config, /api/reports, /api/notifications Administration
  /api/maintenance, /api/reminders             Administration
  /api/scenarios/*                             Demo data (dev only)

SECURITY NOTE:
  No authentication middleware. Acting users are named in request bodies
  and checked by the engine, which is enough for a trusted desk network
  and nothing more.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// CORSOrigins are the origins allowed by default.
var CORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Catalog
		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Post("/", h.CreateBook)
			r.Get("/{id}", h.GetBook)
			r.Put("/{id}", h.UpdateBook)
			r.Delete("/{id}", h.DeleteBook)
			r.Put("/{id}/active", h.SetBookActive)
			r.Get("/{id}/reservations", h.GetBookReservations)
		})
		r.Route("/authors", func(r chi.Router) {
			r.Get("/", h.ListAuthors)
			r.Post("/", h.CreateAuthor)
		})
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
		})

		// Accounts
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.RegisterUser)
			r.Post("/staff", h.RegisterStaff)
			r.Get("/{id}", h.GetUser)
			r.Post("/{id}/validate", h.ValidateUser)
			r.Put("/{id}/active", h.SetUserActive)
			r.Get("/{id}/loans", h.GetUserLoans)
			r.Get("/{id}/sanctions", h.GetUserSanctions)
		})
		r.Post("/auth/login", h.Login)

		// Circulation
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Get("/{id}", h.GetLoan)
			r.Delete("/{id}", h.CancelLoan)
			r.Post("/{id}/renew", h.RenewLoan)
			r.Post("/{id}/return", h.ReturnLoan)
		})
		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", h.ListReservations)
			r.Post("/", h.CreateReservation)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/fulfill", h.FulfillReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
		})
		r.Route("/sanctions", func(r chi.Router) {
			r.Get("/", h.ListSanctions)
			r.Post("/", h.CreateSanction)
			r.Get("/{id}", h.GetSanction)
			r.Post("/{id}/condone", h.CondoneSanction)
			r.Post("/{id}/pay", h.PaySanction)
		})

		// Administration
		r.Route("/config", func(r chi.Router) {
			r.Get("/", h.ListConfig)
			r.Put("/{name}", h.SetConfig)
		})
		r.Get("/service-window", h.GetServiceWindow)
		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", h.GetSummary)
			r.Get("/active-loans", h.ReportActiveLoans)
			r.Get("/overdue", h.ReportOverdueLoans)
			r.Get("/loans", h.ReportLoans)
			r.Get("/sanctions", h.ReportSanctions)
			r.Get("/reservations", h.ReportReservations)
			r.Get("/stock", h.ReportStock)
		})
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Post("/{id}/sent", h.MarkNotificationSent)
		})
		r.Post("/maintenance/run", h.RunMaintenance)
		r.Post("/reminders/run", h.RunReminders)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Circulation Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Circulation Engine API</h1>
<ul>
<li><a href="/api/books">/api/books</a> - Catalog</li>
<li><a href="/api/users">/api/users</a> - Accounts</li>
<li><a href="/api/loans?state=active">/api/loans</a> - Active loans</li>
<li><a href="/api/reports/summary">/api/reports/summary</a> - Dashboard</li>
<li><a href="/api/config">/api/config</a> - Parameters</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
