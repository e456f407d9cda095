package circulation_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// REGISTER
// =============================================================================

func TestRegister_TakesCopiesFromBothCounters(t *testing.T) {
	// GIVEN: A book with total=2, available=2
	// WHEN: Lending both copies in one loan, then asking for one more
	// THEN: available=0 and the third copy fails with InsufficientStock

	f := newFixture(t)
	book := f.book(t, "Paradiso", 2)

	loan := f.lend(t, book.ID, f.student.ID, 2)
	assert.Equal(t, circulation.LoanActive, loan.State)
	assert.Equal(t, 2, loan.Quantity)

	b := f.getBook(t, book.ID)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, 0, b.TotalCopies, "lending takes copies off the shelf count too")

	_, err := f.lib.Loans.Register(f.ctx, circulation.LoanRequest{
		BookID: book.ID, RecipientID: f.teacher.ID, OperatorID: f.librarian.ID, Quantity: 1,
	})
	requireKind(t, err, circulation.KindInsufficientStock)
	var se *circulation.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Available)
	assert.Equal(t, 1, se.Requested)
}

func TestRegister_DueAtCutoffOnTargetDate(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Rayuela", 3)

	student := f.lend(t, book.ID, f.student.ID, 1)
	teacher := f.lend(t, book.ID, f.teacher.ID, 1)

	assert.Equal(t, at(2024, time.January, 25, 14, 45).Unix(), student.DueAt, "15 days for students")
	assert.Equal(t, at(2024, time.February, 9, 14, 45).Unix(), teacher.DueAt, "30 days for teachers")
	assert.Equal(t, deskOpen.Unix(), student.LoanedAt)
}

func TestRegister_ServiceWindowIsInclusive(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		ok   bool
	}{
		{"before opening", time.Date(2024, 1, 10, 6, 59, 59, 0, lima), false},
		{"at opening", time.Date(2024, 1, 10, 7, 0, 0, 0, lima), true},
		{"at closing", time.Date(2024, 1, 10, 14, 45, 0, 0, lima), true},
		{"after closing", time.Date(2024, 1, 10, 14, 45, 1, 0, lima), false},
		{"UTC time inside local window", time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			book := f.book(t, "Ficciones", 1)
			f.clock.Set(tt.now)

			_, err := f.lib.Loans.Register(f.ctx, circulation.LoanRequest{
				BookID: book.ID, RecipientID: f.student.ID, OperatorID: f.librarian.ID, Quantity: 1,
			})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				requireKind(t, err, circulation.KindOutsideServiceHours)
				assert.Equal(t, 1, f.getBook(t, book.ID).AvailableCopies)
			}
		})
	}
}

func TestRegister_Preconditions(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Pedro Páramo", 5)
	retired := f.book(t, "Retired", 1)
	_, err := f.lib.Catalog.SetBookActive(f.ctx, retired.ID, false)
	require.NoError(t, err)

	pending := f.unvalidated(t, "newlib", circulation.RoleLibrarian)
	inactive := f.user(t, "gone", circulation.RoleStudent)
	_, err = f.lib.Users.SetActive(f.ctx, inactive.ID, false)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  circulation.LoanRequest
		kind circulation.Kind
	}{
		{"zero quantity", circulation.LoanRequest{BookID: book.ID, RecipientID: f.student.ID, OperatorID: f.librarian.ID}, circulation.KindInvalidArgument},
		{"self loan", circulation.LoanRequest{BookID: book.ID, RecipientID: f.librarian.ID, OperatorID: f.librarian.ID, Quantity: 1}, circulation.KindSelfLoanForbidden},
		{"unvalidated librarian", circulation.LoanRequest{BookID: book.ID, RecipientID: f.student.ID, OperatorID: pending.ID, Quantity: 1}, circulation.KindInvalidOperator},
		{"student operator", circulation.LoanRequest{BookID: book.ID, RecipientID: f.teacher.ID, OperatorID: f.student.ID, Quantity: 1}, circulation.KindInvalidOperator},
		{"unknown operator", circulation.LoanRequest{BookID: book.ID, RecipientID: f.student.ID, OperatorID: 9999, Quantity: 1}, circulation.KindInvalidOperator},
		{"inactive book", circulation.LoanRequest{BookID: retired.ID, RecipientID: f.student.ID, OperatorID: f.librarian.ID, Quantity: 1}, circulation.KindBookUnavailable},
		{"unknown book", circulation.LoanRequest{BookID: 9999, RecipientID: f.student.ID, OperatorID: f.librarian.ID, Quantity: 1}, circulation.KindBookUnavailable},
		{"too many copies", circulation.LoanRequest{BookID: book.ID, RecipientID: f.student.ID, OperatorID: f.librarian.ID, Quantity: 6}, circulation.KindInsufficientStock},
		{"staff recipient", circulation.LoanRequest{BookID: book.ID, RecipientID: f.admin.ID, OperatorID: f.librarian.ID, Quantity: 1}, circulation.KindInvalidRecipient},
		{"inactive recipient", circulation.LoanRequest{BookID: book.ID, RecipientID: inactive.ID, OperatorID: f.librarian.ID, Quantity: 1}, circulation.KindInvalidRecipient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.lib.Loans.Register(f.ctx, tt.req)
			requireKind(t, err, tt.kind)
		})
	}

	assert.Equal(t, 5, f.getBook(t, book.ID).AvailableCopies, "failed registrations leave stock untouched")
}

func TestRegister_AdminMayOperate(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Aura", 1)

	loan, err := f.lib.Loans.Register(f.ctx, circulation.LoanRequest{
		BookID: book.ID, RecipientID: f.student.ID, OperatorID: f.admin.ID, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, loan.OperatorID)
}

func TestRegister_LoanLimitPerRole(t *testing.T) {
	f := newFixture(t)
	f.setParam(t, circulation.ParamMaxLoansStudent, "1")
	first := f.book(t, "One", 1)
	second := f.book(t, "Two", 1)

	f.lend(t, first.ID, f.student.ID, 1)

	_, err := f.lib.Loans.Register(f.ctx, circulation.LoanRequest{
		BookID: second.ID, RecipientID: f.student.ID, OperatorID: f.librarian.ID, Quantity: 1,
	})
	requireKind(t, err, circulation.KindLoanLimitExceeded)
	var le *circulation.LoanLimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.Active)
	assert.Equal(t, 1, le.Max)

	// teachers keep their own limit
	f.lend(t, second.ID, f.teacher.ID, 1)
}

func TestRegister_NoDoubleLending(t *testing.T) {
	// GIVEN: Student already holds a copy of the book
	// WHEN: Lending another copy of the same book to the same student
	// THEN: DuplicateActiveLoan, and a second copy is still on the shelf

	f := newFixture(t)
	book := f.book(t, "Los de abajo", 2)
	f.lend(t, book.ID, f.student.ID, 1)

	_, err := f.lib.Loans.Register(f.ctx, circulation.LoanRequest{
		BookID: book.ID, RecipientID: f.student.ID, OperatorID: f.librarian.ID, Quantity: 1,
	})
	requireKind(t, err, circulation.KindDuplicateActiveLoan)
	assert.Equal(t, 1, f.getBook(t, book.ID).AvailableCopies)

	active, err := f.lib.Loans.List(f.ctx, circulation.LoanFilter{
		UserID: &f.student.ID, BookID: &book.ID, State: circulation.LoanActive,
	})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRegister_SanctionGate(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Conversación en La Catedral", 1)

	_, err := f.lib.Sanctions.CreateManual(f.ctx, circulation.ManualSanction{
		UserID: f.student.ID, IssuedBy: f.librarian.ID, Reason: "noise", Days: 2, Amount: decimal.Zero,
	})
	require.NoError(t, err)

	_, err = f.lib.Loans.Register(f.ctx, circulation.LoanRequest{
		BookID: book.ID, RecipientID: f.student.ID, OperatorID: f.librarian.ID, Quantity: 1,
	})
	requireKind(t, err, circulation.KindRecipientSanctioned)

	// the sanction ends naturally; the stale flag does not block
	f.clock.Advance(2*24*time.Hour + time.Second)
	assert.True(t, f.getUser(t, f.student.ID).Sanctioned, "flag is not cleared by time alone")
	f.lend(t, book.ID, f.student.ID, 1)
}

func TestRegister_ConcurrentLastCopy(t *testing.T) {
	// GIVEN: One copy and several students asking for it at once
	// THEN: Exactly one loan commits; the others see InsufficientStock

	f := newFixture(t)
	book := f.book(t, "El túnel", 1)
	var students []*circulation.User
	for _, name := range []string{"s1", "s2", "s3", "s4", "s5"} {
		students = append(students, f.user(t, name, circulation.RoleStudent))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		shortage int
	)
	for _, s := range students {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.lib.Loans.Register(f.ctx, circulation.LoanRequest{
				BookID: book.ID, RecipientID: id, OperatorID: f.librarian.ID, Quantity: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, circulation.ErrInsufficientStock):
				shortage++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(s.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, shortage)
	b := f.getBook(t, book.ID)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.LessOrEqual(t, b.AvailableCopies, b.TotalCopies)
}

// =============================================================================
// RENEW
// =============================================================================

func TestRenew_CompoundsFromDueDate(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Cien años de soledad", 1)
	loan := f.lend(t, book.ID, f.student.ID, 1)

	f.clock.Advance(3 * 24 * time.Hour)
	renewed, err := f.lib.Loans.Renew(f.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.DueAt+15*circulation.SecondsPerDay, renewed.DueAt, "extension starts at the due date, not now")
	assert.Equal(t, 1, renewed.Renewals)
	assert.Greater(t, renewed.DueAt, loan.DueAt)

	_, err = f.lib.Loans.Renew(f.ctx, loan.ID)
	requireKind(t, err, circulation.KindRenewalLimitReached)
	var re *circulation.RenewalLimitError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 1, re.Max)

	stored, err := f.lib.Loans.Get(f.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, renewed.DueAt, stored.DueAt)
	assert.Equal(t, 1, stored.Renewals)
}

func TestRenew_RejectsSanctionedAndClosed(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Ficciones", 2)
	loan := f.lend(t, book.ID, f.student.ID, 1)

	_, err := f.lib.Sanctions.CreateManual(f.ctx, circulation.ManualSanction{
		UserID: f.student.ID, IssuedBy: f.admin.ID, Reason: "late elsewhere", Days: 5,
	})
	require.NoError(t, err)
	_, err = f.lib.Loans.Renew(f.ctx, loan.ID)
	requireKind(t, err, circulation.KindRecipientSanctioned)

	_, err = f.lib.Loans.Renew(f.ctx, 9999)
	requireKind(t, err, circulation.KindLoanNotFoundOrClosed)
}

// =============================================================================
// RETURN
// =============================================================================

func TestReturn_OnTimeRestoresStock(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "La casa verde", 2)
	loan := f.lend(t, book.ID, f.student.ID, 2)

	f.clock.Advance(time.Hour)
	res, err := f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{
		LoanID: loan.ID, State: circulation.LoanReturned, Notes: "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, circulation.LoanReturned, res.Loan.State)
	require.NotNil(t, res.Loan.ReturnedAt)
	assert.Equal(t, f.clock.Now().Unix(), *res.Loan.ReturnedAt)
	assert.Empty(t, res.Sanctions)

	b := f.getBook(t, book.ID)
	assert.Equal(t, 2, b.AvailableCopies)
	assert.Equal(t, 2, b.TotalCopies)
	assert.False(t, f.getUser(t, f.student.ID).Sanctioned)
}

func TestReturn_LateFineScenario(t *testing.T) {
	// GIVEN: A loan due 2024-01-10 14:45, fine 2.00/day, 3 sanction days per day late
	// WHEN: Returned on 2024-01-13 09:00
	// THEN: 3 days late: amount 6.00, sanction ends 9 days after the return

	f := newFixture(t)
	book := f.book(t, "Yawar Fiesta", 1)
	f.clock.Set(at(2023, time.December, 26, 10, 0))
	loan := f.lend(t, book.ID, f.student.ID, 1)
	require.Equal(t, at(2024, time.January, 10, 14, 45).Unix(), loan.DueAt)

	returnedAt := at(2024, time.January, 13, 9, 0)
	f.clock.Set(returnedAt)
	res, err := f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{LoanID: loan.ID, State: circulation.LoanReturned})
	require.NoError(t, err)

	require.Len(t, res.Sanctions, 1)
	s := res.Sanctions[0]
	assert.True(t, decimal.RequireFromString("6.00").Equal(s.Amount), "amount %s", s.Amount)
	assert.Equal(t, returnedAt.Unix()+9*circulation.SecondsPerDay, s.EndsAt)
	assert.Equal(t, "late return by 3 days", s.Reason)
	require.NotNil(t, s.LoanID)
	assert.Equal(t, loan.ID, *s.LoanID)

	u := f.getUser(t, f.student.ID)
	assert.True(t, u.Sanctioned)
	assert.Equal(t, s.EndsAt, u.SanctionEnd)
	assert.Equal(t, 1, f.getBook(t, book.ID).AvailableCopies)
}

func TestReturn_PartialDayCountsAsWholeDay(t *testing.T) {
	// GIVEN: A loan due 2024-01-25 14:45
	// WHEN: Returned 17 hours late, at the next morning's opening
	// THEN: One full day: 2.00 fine and a 3-day ban

	f := newFixture(t)
	book := f.book(t, "Todas las sangres", 1)
	loan := f.lend(t, book.ID, f.student.ID, 1)
	require.Equal(t, at(2024, time.January, 25, 14, 45).Unix(), loan.DueAt)

	returnedAt := at(2024, time.January, 26, 7, 45)
	f.clock.Set(returnedAt)
	res, err := f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{LoanID: loan.ID, State: circulation.LoanReturned})
	require.NoError(t, err)

	require.Len(t, res.Sanctions, 1)
	s := res.Sanctions[0]
	assert.Equal(t, "late return by 1 days", s.Reason)
	assert.True(t, decimal.RequireFromString("2.00").Equal(s.Amount), "amount %s", s.Amount)
	assert.Equal(t, returnedAt.Unix()+3*circulation.SecondsPerDay, s.EndsAt)
}

func TestReturn_DamagedAndLateKeepsLatestEnd(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Los ríos profundos", 2)
	f.clock.Set(at(2023, time.December, 26, 10, 0))
	loan := f.lend(t, book.ID, f.student.ID, 2)

	// 1 day late: late sanction lasts 3 days, damage sanction 7 days
	f.clock.Set(at(2024, time.January, 11, 9, 0))
	res, err := f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{LoanID: loan.ID, State: circulation.LoanDamaged})
	require.NoError(t, err)
	require.Len(t, res.Sanctions, 2)

	late, damage := res.Sanctions[0], res.Sanctions[1]
	assert.True(t, decimal.RequireFromString("2.00").Equal(late.Amount))
	assert.True(t, decimal.RequireFromString("200.00").Equal(damage.Amount), "cost per copy times quantity")
	assert.Greater(t, damage.EndsAt, late.EndsAt)

	u := f.getUser(t, f.student.ID)
	assert.Equal(t, damage.EndsAt, u.SanctionEnd, "the later end wins")

	b := f.getBook(t, book.ID)
	assert.Equal(t, 0, b.AvailableCopies, "damaged copies do not come back")
	assert.Equal(t, 0, b.TotalCopies)
}

func TestReturn_Idempotent(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Huasipungo", 1)
	f.clock.Set(at(2023, time.December, 26, 10, 0))
	loan := f.lend(t, book.ID, f.student.ID, 1)
	f.clock.Set(at(2024, time.January, 12, 9, 0))

	_, err := f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{LoanID: loan.ID, State: circulation.LoanReturned})
	require.NoError(t, err)
	_, err = f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{LoanID: loan.ID, State: circulation.LoanReturned})
	requireKind(t, err, circulation.KindLoanNotFoundOrClosed)

	b := f.getBook(t, book.ID)
	assert.Equal(t, 1, b.AvailableCopies, "no double restoration")
	sanctions, err := f.lib.Sanctions.List(f.ctx, circulation.SanctionFilter{UserID: &f.student.ID})
	require.NoError(t, err)
	assert.Len(t, sanctions, 1, "no duplicate sanction")
}

func TestReturn_RejectsBadStateAndClosedHours(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Martín Rivas", 1)
	loan := f.lend(t, book.ID, f.student.ID, 1)

	_, err := f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{LoanID: loan.ID, State: circulation.LoanActive})
	requireKind(t, err, circulation.KindInvalidArgument)

	f.clock.Set(at(2024, time.January, 10, 18, 0))
	_, err = f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{LoanID: loan.ID, State: circulation.LoanReturned})
	requireKind(t, err, circulation.KindOutsideServiceHours)

	stored, err := f.lib.Loans.Get(f.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.LoanActive, stored.State)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancelActive_RestoresAndDeletes(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Doña Bárbara", 3)
	loan := f.lend(t, book.ID, f.student.ID, 2)
	require.Equal(t, 1, f.getBook(t, book.ID).AvailableCopies)

	require.NoError(t, f.lib.Loans.CancelActive(f.ctx, loan.ID))

	b := f.getBook(t, book.ID)
	assert.Equal(t, 3, b.AvailableCopies)
	assert.Equal(t, 3, b.TotalCopies)

	_, err := f.lib.Loans.Get(f.ctx, loan.ID)
	requireKind(t, err, circulation.KindLoanNotFoundOrClosed)
	err = f.lib.Loans.CancelActive(f.ctx, loan.ID)
	requireKind(t, err, circulation.KindLoanNotFoundOrClosed)
}

func TestCancelActive_ClosedLoanRejected(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Juan Moreira", 1)
	loan := f.lend(t, book.ID, f.student.ID, 1)
	_, err := f.lib.Loans.Return(f.ctx, circulation.ReturnRequest{LoanID: loan.ID, State: circulation.LoanLost})
	require.NoError(t, err)

	err = f.lib.Loans.CancelActive(f.ctx, loan.ID)
	requireKind(t, err, circulation.KindLoanNotFoundOrClosed)
	assert.Equal(t, 0, f.getBook(t, book.ID).AvailableCopies)
}

func TestLoans_NotificationsFollowCommits(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Facundo", 1)
	loan := f.lend(t, book.ID, f.student.ID, 1)
	_, err := f.lib.Loans.Renew(f.ctx, loan.ID)
	require.NoError(t, err)
	_, err = f.lib.Loans.Renew(f.ctx, loan.ID)
	require.Error(t, err)

	assert.Equal(t, []circulation.NotificationKind{
		circulation.NotifyLoanRegistered,
		circulation.NotifyLoanRenewed,
	}, f.notes.kinds(), "rejected operations notify nobody")
}
