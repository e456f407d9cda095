/*
scheduler.go - Periodic circulation maintenance

PURPOSE:
  Keeps the stored state tidy between requests. Nothing here is needed for
  correctness: every engine operation expires stale reservations itself and
  decides sanction vigency from the end date, not the flag. The sweep only
  makes reports and user listings reflect the present without waiting for
  the next write.

WHAT A SWEEP DOES:
  1. Moves pending reservations past their expiry to expired
  2. Clears the sanctioned flag of users whose sanctions all ended

CONFIGURATION:
  - Interval: How often to sweep (default: 15 minutes)
  - Enabled:  Whether the background loop runs (default: false)

USAGE:
  sweeper := NewMaintenanceSweeper(lib, log)
  sweeper.Enabled = true
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - admin_handlers.go: RunMaintenance endpoint (manual sweep)
  - circulation/reservations.go: ExpireStale
  - circulation/sanctions.go: ReconcileFlags
*/
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/circulation-engine/circulation"
)

// MaintenanceSweeper runs reservation expiry and sanction flag cleanup on a
// ticker.
type MaintenanceSweeper struct {
	Library  *circulation.Library
	Log      *slog.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// serializes sweeps started by the ticker and by RunNow
	runMu sync.Mutex
	last  time.Time
}

// NewMaintenanceSweeper creates a disabled sweeper.
func NewMaintenanceSweeper(lib *circulation.Library, log *slog.Logger) *MaintenanceSweeper {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MaintenanceSweeper{
		Library:  lib,
		Log:      log.With(slog.String("component", "sweeper")),
		Interval: 15 * time.Minute,
	}
}

// Start begins the background loop. It is a no-op when disabled or already
// running.
func (ms *MaintenanceSweeper) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		ms.Log.Info("disabled, not starting")
		return
	}
	if ms.ticker != nil {
		return
	}
	if ms.Interval <= 0 {
		ms.Interval = 15 * time.Minute
	}

	ms.ticker = time.NewTicker(ms.Interval)
	ms.stop = make(chan struct{})
	ms.wg.Add(1)

	go ms.run()

	ms.Log.Info("started", slog.Duration("interval", ms.Interval))
}

// Stop ends the loop and waits for a sweep in progress to finish.
func (ms *MaintenanceSweeper) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.ticker == nil {
		return
	}
	ms.ticker.Stop()
	close(ms.stop)
	ms.wg.Wait()
	ms.ticker = nil
	ms.Log.Info("stopped")
}

func (ms *MaintenanceSweeper) run() {
	defer ms.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-ms.stop
		cancel()
	}()

	// Run immediately on start
	ms.sweep(ctx)

	for {
		select {
		case <-ms.ticker.C:
			ms.sweep(ctx)
		case <-ms.stop:
			return
		}
	}
}

func (ms *MaintenanceSweeper) sweep(ctx context.Context) {
	if _, err := ms.RunNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
		ms.Log.Error("sweep failed", slog.Any("error", err))
	}
}

// RunNow performs one sweep and reports what it changed. Both steps run even
// if the first fails.
func (ms *MaintenanceSweeper) RunNow(ctx context.Context) (MaintenanceDTO, error) {
	ms.runMu.Lock()
	defer ms.runMu.Unlock()

	var out MaintenanceDTO
	expired, expErr := ms.Library.Reservations.ExpireStale(ctx)
	out.ExpiredReservations = expired
	cleared, flagErr := ms.Library.Sanctions.ReconcileFlags(ctx)
	out.ClearedSanctions = cleared
	ms.last = ms.Library.Now()

	if expired > 0 || cleared > 0 {
		ms.Log.Info("sweep completed",
			slog.Int64("expired_reservations", expired),
			slog.Int("cleared_sanction_flags", cleared))
	}
	return out, errors.Join(expErr, flagErr)
}

// LastRun returns when the most recent sweep finished, or the zero time.
func (ms *MaintenanceSweeper) LastRun() time.Time {
	ms.runMu.Lock()
	defer ms.runMu.Unlock()
	return ms.last
}
