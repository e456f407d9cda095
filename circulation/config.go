/*
config.go - Runtime circulation parameters

PURPOSE:
  The configuration store is a flat name -> string mapping seeded once and
  edited by administrators. Engines never read it directly: they ask an
  injected ConfigProvider for a parsed Params snapshot at the start of each
  operation. A value changed mid-operation is picked up by the next one.

ROLE TABLE:
  Borrower-specific values (loan days, max active loans, renewal days) are
  folded into Params.Roles, keyed by Role. Only borrower roles have entries.

SEE ALSO:
  - store/sqlite/config.go: persisted implementation
*/
package circulation

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// Parameter names.
const (
	ParamLoanDaysStudent        = "loan_days_student"
	ParamLoanDaysTeacher        = "loan_days_teacher"
	ParamMaxLoansStudent        = "max_loans_student"
	ParamMaxLoansTeacher        = "max_loans_teacher"
	ParamRenewalDaysStudent     = "renewal_days_student"
	ParamRenewalDaysTeacher     = "renewal_days_teacher"
	ParamMaxRenewals            = "max_renewals"
	ParamFinePerDay             = "fine_per_day"
	ParamSanctionDaysPerDayLate = "sanction_days_per_day_late"
	ParamReservationExpiryDays  = "reservation_expiry_days"
	ParamDamageLossCost         = "damage_loss_cost"
	ParamDamageLossSanctionDays = "damage_loss_sanction_days"
	ParamReminderDaysBeforeDue  = "reminder_days_before_due"
	ParamLibraryName            = "library_name"
	ParamRepositoryURL          = "repository_url"
)

// ParamType tells how a string value is parsed.
type ParamType int

const (
	ParamInt ParamType = iota
	ParamMoney
	ParamText
)

// ParamSpec describes one seeded configuration parameter.
type ParamSpec struct {
	Name        string
	Default     string
	Description string
	Editable    bool
	Type        ParamType
}

// ParamSpecs is the full seed set.
var ParamSpecs = []ParamSpec{
	{ParamLoanDaysStudent, "15", "Loan days for students", true, ParamInt},
	{ParamLoanDaysTeacher, "30", "Loan days for teachers", true, ParamInt},
	{ParamMaxLoansStudent, "3", "Max active loans for students", true, ParamInt},
	{ParamMaxLoansTeacher, "5", "Max active loans for teachers", true, ParamInt},
	{ParamReservationExpiryDays, "2", "Days before a pending reservation expires", true, ParamInt},
	{ParamRenewalDaysStudent, "15", "Renewal days for students", true, ParamInt},
	{ParamRenewalDaysTeacher, "30", "Renewal days for teachers", true, ParamInt},
	{ParamFinePerDay, "2.00", "Fine per day late", true, ParamMoney},
	{ParamMaxRenewals, "1", "Max renewals per loan", true, ParamInt},
	{ParamDamageLossCost, "100.00", "Charge per damaged or lost copy", true, ParamMoney},
	{ParamSanctionDaysPerDayLate, "3", "Sanction days per day late", true, ParamInt},
	{ParamRepositoryURL, "https://dspace.unitru.edu.pe/", "Institutional repository URL", false, ParamText},
	{ParamLibraryName, "Biblioteca UNT", "Library display name", false, ParamText},
	{ParamDamageLossSanctionDays, "7", "Sanction days for a damaged or lost book", true, ParamInt},
	{ParamReminderDaysBeforeDue, "2", "Days before the due date that return reminders go out", true, ParamInt},
}

// LookupParamSpec returns the spec for name.
func LookupParamSpec(name string) (ParamSpec, bool) {
	for _, s := range ParamSpecs {
		if s.Name == name {
			return s, true
		}
	}
	return ParamSpec{}, false
}

// ValidateParamValue checks that value parses as the parameter's type.
func ValidateParamValue(spec ParamSpec, value string) error {
	switch spec.Type {
	case ParamInt:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q", spec.Name, value)
		}
	case ParamMoney:
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%s must be a non-negative amount, got %q", spec.Name, value)
		}
	case ParamText:
		if value == "" {
			return fmt.Errorf("%s must not be empty", spec.Name)
		}
	}
	return nil
}

// ConfigParam is a stored configuration entry.
type ConfigParam struct {
	Name        string `db:"name"`
	Value       string `db:"value"`
	Description string `db:"description"`
	Editable    bool   `db:"editable"`
}

// =============================================================================
// PARSED PARAMETERS
// =============================================================================

// RolePolicy holds the borrower limits of one role.
type RolePolicy struct {
	LoanDays    int
	MaxLoans    int
	RenewalDays int
}

// Params is a parsed snapshot of the configuration store.
type Params struct {
	Roles                  map[Role]RolePolicy
	MaxRenewals            int
	FinePerDay             decimal.Decimal
	SanctionDaysPerDayLate int
	ReservationExpiryDays  int
	DamageLossCost         decimal.Decimal
	DamageLossSanctionDays int
	ReminderDaysBeforeDue  int
	LibraryName            string
	RepositoryURL          string
}

// Policy returns the borrower policy for role.
func (p Params) Policy(role Role) (RolePolicy, bool) {
	rp, ok := p.Roles[role]
	return rp, ok
}

// ConfigProvider supplies the current parameters to the engines.
type ConfigProvider interface {
	Params(ctx context.Context) (Params, error)
}

// StaticConfig is a fixed ConfigProvider, handy for tests and tools.
type StaticConfig Params

func (c StaticConfig) Params(context.Context) (Params, error) { return Params(c), nil }

// DefaultValues returns the seed value of every parameter.
func DefaultValues() map[string]string {
	values := make(map[string]string, len(ParamSpecs))
	for _, s := range ParamSpecs {
		values[s.Name] = s.Default
	}
	return values
}

// DefaultParams returns the parsed seed parameters.
func DefaultParams() Params {
	p, err := ParseParams(DefaultValues())
	if err != nil {
		panic(err)
	}
	return p
}

// ParseParams builds Params from raw values. Missing entries fall back to the
// seed default; malformed entries are an error.
func ParseParams(values map[string]string) (Params, error) {
	get := func(name string) string {
		if v, ok := values[name]; ok {
			return v
		}
		spec, _ := LookupParamSpec(name)
		return spec.Default
	}

	var errs []string
	intVal := func(name string) int {
		n, err := strconv.Atoi(get(name))
		if err != nil {
			errs = append(errs, name)
		}
		return n
	}
	moneyVal := func(name string) decimal.Decimal {
		d, err := decimal.NewFromString(get(name))
		if err != nil {
			errs = append(errs, name)
		}
		return d
	}

	p := Params{
		Roles: map[Role]RolePolicy{
			RoleStudent: {
				LoanDays:    intVal(ParamLoanDaysStudent),
				MaxLoans:    intVal(ParamMaxLoansStudent),
				RenewalDays: intVal(ParamRenewalDaysStudent),
			},
			RoleTeacher: {
				LoanDays:    intVal(ParamLoanDaysTeacher),
				MaxLoans:    intVal(ParamMaxLoansTeacher),
				RenewalDays: intVal(ParamRenewalDaysTeacher),
			},
		},
		MaxRenewals:            intVal(ParamMaxRenewals),
		FinePerDay:             moneyVal(ParamFinePerDay),
		SanctionDaysPerDayLate: intVal(ParamSanctionDaysPerDayLate),
		ReservationExpiryDays:  intVal(ParamReservationExpiryDays),
		DamageLossCost:         moneyVal(ParamDamageLossCost),
		DamageLossSanctionDays: intVal(ParamDamageLossSanctionDays),
		ReminderDaysBeforeDue:  intVal(ParamReminderDaysBeforeDue),
		LibraryName:            get(ParamLibraryName),
		RepositoryURL:          get(ParamRepositoryURL),
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return Params{}, fmt.Errorf("malformed configuration parameters: %v", errs)
	}
	return p, nil
}
