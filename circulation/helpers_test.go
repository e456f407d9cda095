package circulation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var lima = circulation.LoadLocation("America/Lima")

// deskOpen is a Wednesday morning inside the service window.
var deskOpen = time.Date(2024, time.January, 10, 10, 0, 0, 0, lima)

// testClock is a settable Clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder keeps every notification.
type recorder struct {
	mu    sync.Mutex
	notes []circulation.Notification
}

func (r *recorder) Notify(_ context.Context, n circulation.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) kinds() []circulation.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]circulation.NotificationKind, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Kind
	}
	return out
}

type fixture struct {
	ctx   context.Context
	store *sqlite.Store
	lib   *circulation.Library
	clock *testClock
	notes *recorder

	admin     *circulation.User
	librarian *circulation.User
	student   *circulation.User
	teacher   *circulation.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		ctx:   context.Background(),
		store: store,
		clock: &testClock{t: deskOpen},
		notes: &recorder{},
	}
	f.lib = circulation.New(store, store,
		circulation.WithClock(f.clock),
		circulation.WithNotifier(f.notes),
	)

	f.admin = f.user(t, "admin", circulation.RoleAdmin)
	f.librarian = f.user(t, "librarian", circulation.RoleLibrarian)
	f.student = f.user(t, "student", circulation.RoleStudent)
	f.teacher = f.user(t, "teacher", circulation.RoleTeacher)
	return f
}

// user registers a validated account.
func (f *fixture) user(t *testing.T, username string, role circulation.Role) *circulation.User {
	t.Helper()
	u, err := f.lib.Users.Register(f.ctx, circulation.NewUser{
		Username:  username,
		Password:  "secret123",
		Role:      role,
		FullName:  username,
		Validated: true,
	})
	require.NoError(t, err)
	return u
}

// unvalidated inserts an active account straight into the store, so staff
// roles can exist without a validating admin.
func (f *fixture) unvalidated(t *testing.T, username string, role circulation.Role) *circulation.User {
	t.Helper()
	u := &circulation.User{
		Username:     username,
		PasswordHash: "-",
		Role:         role,
		FullName:     username,
		Active:       true,
		CreatedAt:    f.clock.Now().Unix(),
	}
	err := f.store.WithTx(f.ctx, func(tx circulation.Tx) error {
		var err error
		u.ID, err = tx.InsertUser(f.ctx, u)
		return err
	})
	require.NoError(t, err)
	return u
}

// flagSanctioned writes the sanction columns of a user directly.
func (f *fixture) flagSanctioned(t *testing.T, userID int64, end int64) {
	t.Helper()
	err := f.store.WithTx(f.ctx, func(tx circulation.Tx) error {
		return tx.SetUserSanction(f.ctx, userID, true, end)
	})
	require.NoError(t, err)
}

func (f *fixture) book(t *testing.T, title string, copies int) *circulation.Book {
	t.Helper()
	b, err := f.lib.Catalog.CreateBook(f.ctx, circulation.BookInput{
		Title:       title,
		TotalCopies: copies,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) lend(t *testing.T, bookID, recipientID int64, qty int) *circulation.Loan {
	t.Helper()
	l, err := f.lib.Loans.Register(f.ctx, circulation.LoanRequest{
		BookID:      bookID,
		RecipientID: recipientID,
		OperatorID:  f.librarian.ID,
		Quantity:    qty,
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) getBook(t *testing.T, id int64) *circulation.Book {
	t.Helper()
	b, err := f.lib.Catalog.GetBook(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) getUser(t *testing.T, id int64) *circulation.User {
	t.Helper()
	u, err := f.lib.Users.Get(f.ctx, id)
	require.NoError(t, err)
	return u
}

func (f *fixture) setParam(t *testing.T, name, value string) {
	t.Helper()
	_, err := f.store.SetParam(f.ctx, name, value)
	require.NoError(t, err)
}

// requireKind asserts err carries kind.
func requireKind(t *testing.T, err error, kind circulation.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, circulation.KindOf(err), "error: %v", err)
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, lima)
}
