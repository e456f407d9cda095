/*
main.go - Application entry point

PURPOSE:
  The circulation command: runs the HTTP server and offers a few
  administrative subcommands that work directly on the database file.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve                     Run the HTTP API
  config list               Print every circulation parameter
  config set NAME VALUE     Change an editable parameter
  user add                  Register an account (password prompted); staff
                            accounts need --by ADMIN_ID or --validated
  user validate ID --by ID  Validate an account
  seed                      Load the demo campus into an empty database
  reminders [--days N]      Queue due-soon, overdue and reservation reminders

FLAGS (all commands):
  --db             SQLite database path (default: circulation.db, env LIBRARY_DB)
                   Use ":memory:" for an in-memory database
  --tz             Service window time zone (default: America/Lima, env LIBRARY_TZ)
  --window-open    Desk opening time HH:MM (default: 07:00, env LIBRARY_WINDOW_OPEN)
  --window-close   Desk closing and due time HH:MM (default: 14:45, env LIBRARY_WINDOW_CLOSE)
  --log-level      debug, info, warn or error (default: info, env LIBRARY_LOG_LEVEL)

FLAGS (serve):
  --addr             Listen address (default: :8080, env LIBRARY_ADDR)
  --sweep-interval   Maintenance sweep period, 0 disables (default: 0, env LIBRARY_SWEEP_INTERVAL)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the maintenance sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  circulation serve --db ./data/library.db --sweep-interval 15m
  circulation user add --username admin --role admin --name "Admin" --validated
  circulation config set fine_per_day 2.50

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/warp/circulation-engine/api"
	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/notify"
	"github.com/warp/circulation-engine/store/sqlite"
)

// options holds the persistent flags.
type options struct {
	dbPath      string
	tz          string
	windowOpen  string
	windowClose string
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "circulation",
		Short:         "University library circulation engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.dbPath, "db", envOr("LIBRARY_DB", "circulation.db"), "SQLite database path")
	pf.StringVar(&opts.tz, "tz", envOr("LIBRARY_TZ", circulation.DefaultTimezone), "service window time zone")
	pf.StringVar(&opts.windowOpen, "window-open", envOr("LIBRARY_WINDOW_OPEN", "07:00"), "desk opening time (HH:MM)")
	pf.StringVar(&opts.windowClose, "window-close", envOr("LIBRARY_WINDOW_CLOSE", "14:45"), "desk closing and due time (HH:MM)")
	pf.StringVar(&opts.logLevel, "log-level", envOr("LIBRARY_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newConfigCmd(opts),
		newUserCmd(opts),
		newSeedCmd(opts),
		newRemindersCmd(opts),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// =============================================================================
// WIRING
// =============================================================================

// app is an opened database plus the engines over it.
type app struct {
	store *sqlite.Store
	lib   *circulation.Library
	log   *slog.Logger
}

func (o *options) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func (o *options) window() (circulation.ServiceWindow, error) {
	open, err := circulation.ParseTimeOfDay(o.windowOpen)
	if err != nil {
		return circulation.ServiceWindow{}, fmt.Errorf("--window-open: %w", err)
	}
	closing, err := circulation.ParseTimeOfDay(o.windowClose)
	if err != nil {
		return circulation.ServiceWindow{}, fmt.Errorf("--window-close: %w", err)
	}
	if open.Hour*60+open.Minute >= closing.Hour*60+closing.Minute {
		return circulation.ServiceWindow{}, fmt.Errorf("window opens at %s but closes at %s", open, closing)
	}
	loc, err := time.LoadLocation(o.tz)
	if err != nil {
		return circulation.ServiceWindow{}, fmt.Errorf("--tz: %w", err)
	}
	return circulation.ServiceWindow{Open: open, Close: closing, Location: loc}, nil
}

func (o *options) open() (*app, error) {
	log, err := o.logger()
	if err != nil {
		return nil, err
	}
	win, err := o.window()
	if err != nil {
		return nil, err
	}
	store, err := sqlite.New(o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	lib := circulation.New(store, store,
		circulation.WithServiceWindow(win),
		circulation.WithLogger(log),
		circulation.WithNotifier(notify.Multi{store, notify.Logger{Log: log}}),
	)
	return &app{store: store, lib: lib, log: log}, nil
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr          string
		sweepInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.store.Close()
			return serve(a, addr, sweepInterval)
		},
	}
	sweepDefault, _ := time.ParseDuration(envOr("LIBRARY_SWEEP_INTERVAL", "0s"))
	cmd.Flags().StringVar(&addr, "addr", envOr("LIBRARY_ADDR", ":8080"), "listen address")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", sweepDefault, "maintenance sweep period (0 disables)")
	return cmd
}

func serve(a *app, addr string, sweepInterval time.Duration) error {
	handler := api.NewHandler(a.lib, a.store, a.log)

	sweeper := api.NewMaintenanceSweeper(a.lib, a.log)
	sweeper.Interval = sweepInterval
	sweeper.Enabled = sweepInterval > 0
	handler.Sweeper = sweeper
	sweeper.Start()

	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting",
			slog.String("addr", addr),
			slog.String("window", a.lib.Window().String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		sweeper.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	a.log.Info("shutting down server")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.log.Info("server stopped")
	return nil
}

// =============================================================================
// CONFIG
// =============================================================================

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change circulation parameters",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every parameter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.store.Close()

			params, err := a.store.ListParams(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-28s %-32s %-8s %s\n", "Name", "Value", "Editable", "Description")
			fmt.Fprintln(out, strings.Repeat("-", 100))
			for _, p := range params {
				fmt.Fprintf(out, "%-28s %-32s %-8t %s\n", p.Name, p.Value, p.Editable, p.Description)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Change an editable parameter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.store.Close()

			p, err := a.store.SetParam(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", p.Name, p.Value)
			return nil
		},
	})
	return cmd
}

// =============================================================================
// USER
// =============================================================================

func newUserCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var (
		nu      circulation.NewUser
		role    string
		email   string
		creator int64
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an account; the password is read from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.store.Close()

			nu.Role = circulation.Role(role)
			if cmd.Flags().Changed("by") {
				nu.CreatedBy = &creator
			}
			if email != "" {
				nu.Email = &email
			}
			if nu.Password, err = readPassword(cmd, fmt.Sprintf("Password for %s: ", nu.Username)); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			u, err := a.lib.Users.Register(cmd.Context(), nu)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s '%s' with ID %d (validated: %t)\n",
				u.Role, u.Username, u.ID, u.Validated)
			return nil
		},
	}
	add.Flags().StringVar(&nu.Username, "username", "", "login name")
	add.Flags().StringVar(&role, "role", string(circulation.RoleStudent), "student, teacher, librarian or admin")
	add.Flags().StringVar(&nu.FullName, "name", "", "full name")
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().BoolVar(&nu.Validated, "validated", false, "create the account already validated (bootstrap)")
	add.Flags().Int64Var(&creator, "by", 0, "ID of the validated admin creating a staff account")
	_ = add.MarkFlagRequired("username")

	var validator int64
	validate := &cobra.Command{
		Use:   "validate USER_ID",
		Short: "Validate an account on behalf of another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID: %s", args[0])
			}
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.store.Close()

			u, err := a.lib.Users.Validate(cmd.Context(), id, validator)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User '%s' (ID: %d) validated\n", u.Username, u.ID)
			return nil
		},
	}
	validate.Flags().Int64Var(&validator, "by", 0, "ID of the validating admin or librarian")
	_ = validate.MarkFlagRequired("by")

	cmd.AddCommand(add, validate)
	return cmd
}

// readPassword reads a password with masking when stdin is a terminal, or a
// single line otherwise.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// SEED
// =============================================================================

func newSeedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo campus into an empty database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.store.Close()

			users, err := a.lib.Users.List(cmd.Context(), circulation.UserFilter{Limit: 1})
			if err != nil {
				return err
			}
			if len(users) > 0 {
				return errors.New("database already has users; seed only loads into an empty database")
			}
			if err := api.SeedCampus(cmd.Context(), a.lib); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Demo campus loaded. Every account uses the password %q.\n", api.DemoPassword)
			return nil
		},
	}
}

// =============================================================================
// REMINDERS
// =============================================================================

func newRemindersCmd(opts *options) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Queue due-soon, overdue and pending-reservation reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.store.Close()

			var run circulation.ReminderRun
			if cmd.Flags().Changed("days") {
				run, err = a.lib.Reminders.SendWithin(cmd.Context(), days)
			} else {
				run, err = a.lib.Reminders.SendAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-22s %6s %6s\n", "Batch", "Total", "Sent")
			fmt.Fprintf(out, "%-22s %6d %6d\n", "due soon", run.DueSoon.Total, run.DueSoon.Sent)
			fmt.Fprintf(out, "%-22s %6d %6d\n", "overdue", run.Overdue.Total, run.Overdue.Sent)
			fmt.Fprintf(out, "%-22s %6d %6d\n", "pending reservations",
				run.PendingReservations.Total, run.PendingReservations.Sent)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "due-soon horizon in days (default: reminder_days_before_due)")
	return cmd
}
