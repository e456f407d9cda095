package circulation

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Library bundles the engines that share one store, configuration provider,
// clock and service window.
type Library struct {
	Loans        *LoanEngine
	Reservations *ReservationEngine
	Sanctions    *SanctionLedger
	Catalog      *Catalog
	Users        *Registry
	Reports      *Reports
	Reminders    *Reminders
}

// deps is shared by every engine.
type deps struct {
	store    Store
	config   ConfigProvider
	clock    Clock
	window   ServiceWindow
	notifier Notifier
	log      *slog.Logger
}

// Option configures a Library.
type Option func(*deps)

func WithClock(c Clock) Option { return func(d *deps) { d.clock = c } }

func WithServiceWindow(w ServiceWindow) Option { return func(d *deps) { d.window = w } }

func WithNotifier(n Notifier) Option { return func(d *deps) { d.notifier = n } }

func WithLogger(l *slog.Logger) Option { return func(d *deps) { d.log = l } }

// New wires the engines. config is consulted once per operation.
func New(store Store, config ConfigProvider, opts ...Option) *Library {
	d := &deps{
		store:    store,
		config:   config,
		clock:    SystemClock{},
		window:   DefaultServiceWindow(),
		notifier: NopNotifier{},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	reports := &Reports{deps: d}
	if r, ok := store.(Reporter); ok {
		reports.reporter = r
	}
	return &Library{
		Loans:        &LoanEngine{d},
		Reservations: &ReservationEngine{d},
		Sanctions:    &SanctionLedger{d},
		Catalog:      &Catalog{d},
		Users:        &Registry{d},
		Reports:      reports,
		Reminders:    &Reminders{reports: reports},
	}
}

// Window returns the configured service window.
func (l *Library) Window() ServiceWindow { return l.Loans.window }

// Now reads the library clock.
func (l *Library) Now() time.Time { return l.Loans.now() }

func (d *deps) now() time.Time { return d.clock.Now() }

// params reads the configuration before a transaction starts.
func (d *deps) params(ctx context.Context, op string) (Params, error) {
	p, err := d.config.Params(ctx)
	if err != nil {
		return Params{}, infraErr(op, err)
	}
	return p, nil
}

// run executes fn in one transaction and classifies the outcome: domain
// failures pass through unchanged, anything else is reported as
// infrastructure.
func (d *deps) run(ctx context.Context, op string, fn func(Tx) error) error {
	err := d.store.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		d.log.Debug("operation rejected",
			slog.String("op", op),
			slog.String("kind", string(KindOf(err))),
			slog.String("error", err.Error()))
		return err
	}
	d.log.Error("operation failed", slog.String("op", op), slog.Any("error", err))
	return infraErr(op, err)
}

// checkWindow fails with OutsideServiceHours when now is outside the window.
func (d *deps) checkWindow(op string, now time.Time) error {
	if !d.window.Contains(now) {
		return ruleErr(op, KindOutsideServiceHours, "%s is outside %s",
			now.In(d.window.loc()).Format("15:04:05"), d.window)
	}
	return nil
}

// mergeSanctionEnd computes the user's "sanctioned until" after adding a
// sanction ending at end: the later of the two wins, and an existing vigent
// indefinite sanction stays indefinite.
func mergeSanctionEnd(u *User, end, now int64) int64 {
	if !u.SanctionVigent(now) {
		return end
	}
	if u.SanctionEnd == 0 || end == 0 {
		return 0
	}
	return max(u.SanctionEnd, end)
}
