/*
scenarios.go - Demo data sets for testing and demonstrations

PURPOSE:

	Populates the database with a small campus library so the API can be
	explored without typing fixtures by hand. Everything goes through the
	engines, so the data obeys the same rules as production data.

AVAILABLE SCENARIOS:

	campus:           Accounts and catalog only
	circulation-desk: campus plus overdue loans, a late return with its
	                  sanction, and a pending reservation

HOW SCENARIOS WORK:
 1. Reset database (clear all data, reseed configuration)
 2. Register and validate accounts
 3. Create authors, categories and books
 4. Optionally run desk operations with a backdated clock

DEMO ACCOUNTS:

	admin / demo1234      librarian / demo1234
	ana, luis (students)  rosa (teacher)      all with password demo1234

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "circulation-desk"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - store/sqlite/sqlite.go: Reset
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/circulation-engine/circulation"
)

// DemoPassword is the password of every demo account.
const DemoPassword = "demo1234"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "campus",
		Name:        "Campus",
		Description: "Validated staff and borrowers with a small catalog, no circulation yet",
	},
	{
		ID:          "circulation-desk",
		Name:        "Circulation Desk",
		Description: "Campus plus overdue loans, a late return with its sanction, and a pending reservation",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}

	var loader func(context.Context) error
	switch req.ScenarioID {
	case "campus":
		loader = func(ctx context.Context) error {
			_, err := h.loadCampus(ctx)
			return err
		}
	case "circulation-desk":
		loader = h.loadCirculationDesk
	default:
		h.fail(w, r, "Unknown scenario",
			fmt.Errorf("%w: scenario %q", circulation.ErrInvalidArgument, req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := loader(ctx); err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Log.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data and restores the default configuration.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// campus holds the IDs created by loadCampus.
type campus struct {
	admin, librarian    int64
	ana, luis, rosa     int64
	books               map[string]int64
	authors, categories map[string]int64
}

// SeedCampus loads the campus scenario into an empty database. Exported for
// the CLI seed command.
func SeedCampus(ctx context.Context, lib *circulation.Library) error {
	_, err := seedCampus(ctx, lib)
	return err
}

func (h *Handler) loadCampus(ctx context.Context) (*campus, error) {
	return seedCampus(ctx, h.Library)
}

func seedCampus(ctx context.Context, lib *circulation.Library) (*campus, error) {
	c := &campus{
		books:      map[string]int64{},
		authors:    map[string]int64{},
		categories: map[string]int64{},
	}

	admin, err := lib.Users.Register(ctx, circulation.NewUser{
		Username: "admin", Password: DemoPassword, Role: circulation.RoleAdmin,
		FullName: "Library Administrator", Validated: true,
	})
	if err != nil {
		return nil, err
	}
	c.admin = admin.ID

	staffEmail := "librarian@campus.example.edu"
	staff, err := lib.Users.Register(ctx, circulation.NewUser{
		Username: "librarian", Password: DemoPassword, Role: circulation.RoleLibrarian,
		FullName: "Marta Quispe", Email: &staffEmail, CreatedBy: &c.admin,
	})
	if err != nil {
		return nil, err
	}
	c.librarian = staff.ID

	register := func(username, fullName string, role circulation.Role, validator int64) (int64, error) {
		email := username + "@campus.example.edu"
		u, err := lib.Users.Register(ctx, circulation.NewUser{
			Username: username, Password: DemoPassword, Role: role,
			FullName: fullName, Email: &email,
		})
		if err != nil {
			return 0, err
		}
		if _, err := lib.Users.Validate(ctx, u.ID, validator); err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	if c.ana, err = register("ana", "Ana Torres", circulation.RoleStudent, c.librarian); err != nil {
		return nil, err
	}
	if c.luis, err = register("luis", "Luis Mendoza", circulation.RoleStudent, c.librarian); err != nil {
		return nil, err
	}
	if c.rosa, err = register("rosa", "Rosa Vargas", circulation.RoleTeacher, c.librarian); err != nil {
		return nil, err
	}

	for _, a := range []struct{ name, nationality string }{
		{"Gabriel García Márquez", "Colombian"},
		{"Mario Vargas Llosa", "Peruvian"},
		{"Donald Knuth", "American"},
	} {
		author, err := lib.Catalog.CreateAuthor(ctx, a.name, a.nationality)
		if err != nil {
			return nil, err
		}
		c.authors[a.name] = author.ID
	}
	for _, cat := range []struct{ name, description string }{
		{"Literature", "Novels and short stories"},
		{"Computer Science", "Algorithms and programming"},
	} {
		category, err := lib.Catalog.CreateCategory(ctx, cat.name, cat.description)
		if err != nil {
			return nil, err
		}
		c.categories[cat.name] = category.ID
	}

	for _, b := range []struct {
		key, title, author, category, publisher, isbn string
		year, copies                                  int
	}{
		{"solitude", "Cien años de soledad", "Gabriel García Márquez", "Literature", "Sudamericana", "978-0307474728", 1967, 3},
		{"city", "La ciudad y los perros", "Mario Vargas Llosa", "Literature", "Seix Barral", "978-8432217944", 1963, 2},
		{"taocp", "The Art of Computer Programming, Vol. 1", "Donald Knuth", "Computer Science", "Addison-Wesley", "978-0201896831", 1968, 1},
		{"tex", "The TeXbook", "Donald Knuth", "Computer Science", "Addison-Wesley", "978-0201134476", 1984, 2},
	} {
		authorID, categoryID, isbn := c.authors[b.author], c.categories[b.category], b.isbn
		book, err := lib.Catalog.CreateBook(ctx, circulation.BookInput{
			Title:       b.title,
			AuthorID:    &authorID,
			CategoryID:  &categoryID,
			Publisher:   b.publisher,
			Year:        b.year,
			ISBN:        &isbn,
			TotalCopies: b.copies,
		})
		if err != nil {
			return nil, err
		}
		c.books[b.key] = book.ID
	}
	return c, nil
}

func (h *Handler) loadCirculationDesk(ctx context.Context) error {
	c, err := h.loadCampus(ctx)
	if err != nil {
		return err
	}

	// Desk operations happen in the past, at opening time, so the data
	// shows overdue loans right away.
	twentyDaysAgo := h.backdated(20)
	loan := func(bookID, userID int64) (*circulation.Loan, error) {
		return twentyDaysAgo.Loans.Register(ctx, circulation.LoanRequest{
			BookID:      bookID,
			RecipientID: userID,
			OperatorID:  c.librarian,
			Quantity:    1,
		})
	}

	// ana keeps an overdue loan.
	if _, err := loan(c.books["solitude"], c.ana); err != nil {
		return err
	}
	// rosa (30-day teacher loan) is still within term.
	if _, err := loan(c.books["taocp"], c.rosa); err != nil {
		return err
	}
	// luis returned late and was sanctioned.
	late, err := loan(c.books["city"], c.luis)
	if err != nil {
		return err
	}
	if _, err := h.backdated(2).Loans.Return(ctx, circulation.ReturnRequest{
		LoanID: late.ID,
		State:  circulation.LoanReturned,
		Notes:  "returned late",
	}); err != nil {
		return err
	}

	// rosa waits for the second copy of The TeXbook.
	_, err = h.Library.Reservations.Create(ctx, c.books["tex"], c.rosa)
	return err
}

// backdated returns a library sharing the store and window but whose clock
// reads the window's opening time, daysAgo days before now.
func (h *Handler) backdated(daysAgo int) *circulation.Library {
	win := h.Library.Window()
	loc := win.Location
	if loc == nil {
		loc = time.UTC
	}
	day := h.Library.Now().In(loc).AddDate(0, 0, -daysAgo)
	at := time.Date(day.Year(), day.Month(), day.Day(), win.Open.Hour, win.Open.Minute, 0, 0, loc)
	return circulation.New(h.Store, h.Store,
		circulation.WithClock(circulation.FixedClock(at)),
		circulation.WithServiceWindow(win))
}
