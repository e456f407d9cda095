package circulation_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// SERVICE WINDOW
// =============================================================================

func TestServiceWindow_Contains(t *testing.T) {
	w := circulation.DefaultServiceWindow()

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"one second before opening", time.Date(2024, 3, 4, 6, 59, 59, 0, lima), false},
		{"opening", time.Date(2024, 3, 4, 7, 0, 0, 0, lima), true},
		{"midday", time.Date(2024, 3, 4, 12, 0, 0, 0, lima), true},
		{"closing", time.Date(2024, 3, 4, 14, 45, 0, 0, lima), true},
		{"one second after closing", time.Date(2024, 3, 4, 14, 45, 1, 0, lima), false},
		{"midnight", time.Date(2024, 3, 4, 0, 0, 0, 0, lima), false},
		{"UTC evening is Lima afternoon", time.Date(2024, 3, 4, 19, 30, 0, 0, time.UTC), true},
		{"UTC noon is Lima morning", time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC), true},
		{"UTC 11:59 is Lima 06:59", time.Date(2024, 3, 4, 11, 59, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.t))
		})
	}
}

func TestServiceWindow_DueAt(t *testing.T) {
	w := circulation.DefaultServiceWindow()

	// loans made at any hour on the same day are due at the same instant
	morning := w.DueAt(at(2024, time.January, 10, 7, 0), 15)
	afternoon := w.DueAt(at(2024, time.January, 10, 14, 45), 15)
	assert.Equal(t, at(2024, time.January, 25, 14, 45).Unix(), morning.Unix())
	assert.True(t, morning.Equal(afternoon))

	// month and year rollover
	assert.Equal(t, at(2024, time.February, 14, 14, 45).Unix(), w.DueAt(at(2024, time.January, 15, 9, 0), 30).Unix())
	assert.Equal(t, at(2025, time.January, 5, 14, 45).Unix(), w.DueAt(at(2024, time.December, 21, 9, 0), 15).Unix())

	// the local date decides, not the UTC date
	utcNextDay := time.Date(2024, 1, 11, 2, 0, 0, 0, time.UTC) // 2024-01-10 21:00 in Lima
	assert.Equal(t, at(2024, time.January, 11, 14, 45).Unix(), w.DueAt(utcNextDay, 1).Unix())
}

func TestServiceWindow_CalendarDays(t *testing.T) {
	w := circulation.DefaultServiceWindow()

	assert.Equal(t, 0, w.CalendarDays(at(2024, time.January, 10, 7, 0), at(2024, time.January, 10, 14, 45)))
	assert.Equal(t, 1, w.CalendarDays(at(2024, time.January, 10, 14, 0), at(2024, time.January, 11, 7, 0)))
	assert.Equal(t, 22, w.CalendarDays(at(2023, time.December, 20, 9, 0), at(2024, time.January, 11, 9, 0)))
	assert.Equal(t, -2, w.CalendarDays(at(2024, time.January, 12, 9, 0), at(2024, time.January, 10, 9, 0)))

	// 21:00 in Lima is already the next day in UTC
	lateEvening := time.Date(2024, 1, 11, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, w.CalendarDays(at(2024, time.January, 10, 8, 0), lateEvening))
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := circulation.ParseTimeOfDay("07:30")
	require.NoError(t, err)
	assert.Equal(t, circulation.TimeOfDay{Hour: 7, Minute: 30}, tod)
	assert.Equal(t, "07:30", tod.String())

	for _, bad := range []string{"", "7", "25:00", "07:61", "7pm"} {
		_, err := circulation.ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadLocation_FallsBackToFixedOffset(t *testing.T) {
	loc := circulation.LoadLocation("Not/AZone")
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -5*3600, offset)
}

// =============================================================================
// DAYS LATE
// =============================================================================

func TestDaysLate(t *testing.T) {
	due := at(2024, time.January, 10, 14, 45).Unix()

	tests := []struct {
		now  int64
		want int
	}{
		{due - 1, 0},
		{due, 0},
		{due + 1, 1},
		{due + circulation.SecondsPerDay, 1},
		{due + circulation.SecondsPerDay + 1, 2},
		{at(2024, time.January, 13, 9, 0).Unix(), 3},
		{due + 10*circulation.SecondsPerDay, 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%+d", tt.now-due), func(t *testing.T) {
			assert.Equal(t, tt.want, circulation.DaysLate(tt.now, due))
		})
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestDefaultParams(t *testing.T) {
	p := circulation.DefaultParams()

	student, ok := p.Policy(circulation.RoleStudent)
	require.True(t, ok)
	assert.Equal(t, circulation.RolePolicy{LoanDays: 15, MaxLoans: 3, RenewalDays: 15}, student)
	teacher, ok := p.Policy(circulation.RoleTeacher)
	require.True(t, ok)
	assert.Equal(t, circulation.RolePolicy{LoanDays: 30, MaxLoans: 5, RenewalDays: 30}, teacher)
	_, ok = p.Policy(circulation.RoleLibrarian)
	assert.False(t, ok, "staff roles have no borrower policy")

	assert.Equal(t, 1, p.MaxRenewals)
	assert.Equal(t, "2", p.FinePerDay.String())
	assert.Equal(t, "100", p.DamageLossCost.String())
	assert.Equal(t, 3, p.SanctionDaysPerDayLate)
	assert.Equal(t, 2, p.ReservationExpiryDays)
	assert.Equal(t, 7, p.DamageLossSanctionDays)
}

func TestParseParams(t *testing.T) {
	p, err := circulation.ParseParams(map[string]string{
		circulation.ParamMaxLoansStudent: "7",
		circulation.ParamFinePerDay:      "1.25",
	})
	require.NoError(t, err)
	student, _ := p.Policy(circulation.RoleStudent)
	assert.Equal(t, 7, student.MaxLoans)
	assert.Equal(t, 15, student.LoanDays, "missing entries fall back to defaults")
	assert.Equal(t, "1.25", p.FinePerDay.StringFixed(2))

	_, err = circulation.ParseParams(map[string]string{
		circulation.ParamMaxRenewals: "many",
		circulation.ParamFinePerDay:  "two",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), circulation.ParamFinePerDay)
	assert.Contains(t, err.Error(), circulation.ParamMaxRenewals)
}

func TestValidateParamValue(t *testing.T) {
	intSpec, ok := circulation.LookupParamSpec(circulation.ParamMaxLoansTeacher)
	require.True(t, ok)
	moneySpec, _ := circulation.LookupParamSpec(circulation.ParamDamageLossCost)
	textSpec, _ := circulation.LookupParamSpec(circulation.ParamLibraryName)

	assert.NoError(t, circulation.ValidateParamValue(intSpec, "0"))
	assert.NoError(t, circulation.ValidateParamValue(intSpec, "12"))
	assert.Error(t, circulation.ValidateParamValue(intSpec, "-1"))
	assert.Error(t, circulation.ValidateParamValue(intSpec, "1.5"))

	assert.NoError(t, circulation.ValidateParamValue(moneySpec, "80.50"))
	assert.Error(t, circulation.ValidateParamValue(moneySpec, "-0.01"))
	assert.Error(t, circulation.ValidateParamValue(moneySpec, "abc"))

	assert.NoError(t, circulation.ValidateParamValue(textSpec, "Biblioteca Central"))
	assert.Error(t, circulation.ValidateParamValue(textSpec, ""))

	_, ok = circulation.LookupParamSpec("no_such_param")
	assert.False(t, ok)
}

func TestStaticConfig(t *testing.T) {
	p := circulation.DefaultParams()
	p.MaxRenewals = 0

	f := newFixture(t)
	lib := circulation.New(f.store, circulation.StaticConfig(p),
		circulation.WithClock(circulation.FixedClock(deskOpen)))
	book := f.book(t, "Trilce", 1)
	loan := f.lend(t, book.ID, f.student.ID, 1)

	_, err := lib.Loans.Renew(f.ctx, loan.ID)
	requireKind(t, err, circulation.KindRenewalLimitReached)
	assert.True(t, deskOpen.Equal(lib.Now()))
}
