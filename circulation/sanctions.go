/*
sanctions.go - Sanction ledger

PURPOSE:
  Records fines and borrowing bans tied to a user (optionally to a loan) and
  keeps the user's aggregate "sanctioned until" flag in step.

FLAG RECONCILIATION:
  The flag is written when a sanction is created or closed; nothing watches
  the clock. A sanction that simply runs out leaves the flag set until the
  next write touches that user, which is harmless because every gate checks
  User.SanctionVigent instead of the bare flag. ReconcileFlags clears such
  stale flags in bulk.

STATE MACHINE:
  active -> condoned | paid   (terminal)

SEE ALSO:
  - loans.go: automatic late and damage/loss sanctions
*/
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// SanctionLedger creates and closes sanctions.
type SanctionLedger struct {
	*deps
}

// ManualSanction is an administrative sanction.
type ManualSanction struct {
	UserID   int64
	IssuedBy int64
	Reason   string
	Days     int
	Amount   decimal.Decimal
}

// CreateManual inserts an active sanction lasting Days days and raises the
// user's flag.
func (s *SanctionLedger) CreateManual(ctx context.Context, req ManualSanction) (*Sanction, error) {
	const op = "create sanction"
	reason := strings.TrimSpace(req.Reason)
	switch {
	case reason == "":
		return nil, ruleErr(op, KindInvalidArgument, "reason is required")
	case req.Days < 1:
		return nil, ruleErr(op, KindInvalidArgument, "days must be at least 1, got %d", req.Days)
	case req.Amount.IsNegative():
		return nil, ruleErr(op, KindInvalidArgument, "amount must not be negative")
	}
	now := s.now().Unix()

	var created Sanction
	err := s.run(ctx, op, func(tx Tx) error {
		issuer, err := tx.LockUser(ctx, req.IssuedBy)
		if err != nil {
			return err
		}
		if issuer == nil || !issuer.CanOperate() {
			return ruleErr(op, KindInvalidOperator, "user %d must be an active, validated admin or librarian", req.IssuedBy)
		}
		target, err := tx.LockUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if target == nil {
			return ruleErr(op, KindUserNotFound, "user %d", req.UserID)
		}
		if !target.Role.IsBorrower() {
			return ruleErr(op, KindInvalidRecipient, "only students and teachers can be sanctioned")
		}

		batch := []Sanction{{
			UserID:   target.ID,
			StartsAt: now,
			EndsAt:   now + int64(req.Days)*SecondsPerDay,
			Reason:   reason,
			Amount:   req.Amount,
			State:    SanctionActive,
		}}
		if err := s.applySanctions(ctx, tx, op, target.ID, now, batch); err != nil {
			return err
		}
		created = batch[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sanction created",
		slog.Int64("sanction_id", created.ID),
		slog.Int64("user_id", created.UserID),
		slog.Int64("issued_by", req.IssuedBy),
		slog.String("amount", created.Amount.StringFixed(2)))
	s.notify(ctx, sanctionNotification(s.deps, created))
	return &created, nil
}

// Condone closes an active sanction as condoned, ending it now.
func (s *SanctionLedger) Condone(ctx context.Context, id int64) (*Sanction, error) {
	return s.close(ctx, "condone sanction", id, SanctionCondoned)
}

// Pay closes an active sanction as paid, ending it now.
func (s *SanctionLedger) Pay(ctx context.Context, id int64) (*Sanction, error) {
	return s.close(ctx, "pay sanction", id, SanctionPaid)
}

func (s *SanctionLedger) close(ctx context.Context, op string, id int64, state SanctionState) (*Sanction, error) {
	now := s.now().Unix()

	var closed *Sanction
	err := s.run(ctx, op, func(tx Tx) error {
		sn, err := tx.LockSanction(ctx, id)
		if err != nil {
			return err
		}
		if sn == nil || sn.State != SanctionActive {
			return ruleErr(op, KindSanctionNotFound, "sanction %d", id)
		}
		sn.State = state
		sn.EndsAt = now
		if err := tx.UpdateSanction(ctx, sn); err != nil {
			return err
		}
		closed = sn
		_, err = recomputeSanctionFlag(ctx, tx, sn.UserID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sanction closed",
		slog.Int64("sanction_id", closed.ID),
		slog.Int64("user_id", closed.UserID),
		slog.String("state", string(closed.State)))
	s.notify(ctx, Notification{
		Kind:    NotifySanctionClosed,
		UserID:  closed.UserID,
		Subject: "Sanction closed",
		Body:    fmt.Sprintf("Sanction #%d (%s) is now %s.", closed.ID, closed.Reason, closed.State),
	})
	return closed, nil
}

// recomputeSanctionFlag derives the user's flag from the sanctions that are
// still active and vigent. Returns whether the user remains sanctioned.
func recomputeSanctionFlag(ctx context.Context, tx Tx, userID, now int64) (bool, error) {
	active, err := tx.ListUserSanctions(ctx, userID, SanctionActive)
	if err != nil {
		return false, err
	}
	var (
		vigent bool
		end    int64
	)
	for i := range active {
		if !active[i].Vigent(now) {
			continue
		}
		if !vigent {
			end = active[i].EndsAt
		} else if end != 0 && (active[i].EndsAt == 0 || active[i].EndsAt > end) {
			end = active[i].EndsAt
		}
		vigent = true
	}
	if !vigent {
		return false, tx.SetUserSanction(ctx, userID, false, 0)
	}
	return true, tx.SetUserSanction(ctx, userID, true, end)
}

// ReconcileFlags recomputes the flag of every user still marked sanctioned
// whose recorded end has passed. Returns how many users were cleared.
func (s *SanctionLedger) ReconcileFlags(ctx context.Context) (int, error) {
	const op = "reconcile sanction flags"
	now := s.now().Unix()
	users, err := s.store.ListUsers(ctx, UserFilter{SanctionedOnly: true})
	if err != nil {
		return 0, infraErr(op, err)
	}

	cleared := 0
	for _, u := range users {
		if u.SanctionVigent(now) {
			continue
		}
		var still bool
		err := s.run(ctx, op, func(tx Tx) error {
			var err error
			still, err = recomputeSanctionFlag(ctx, tx, u.ID, now)
			return err
		})
		if err != nil {
			return cleared, err
		}
		if !still {
			cleared++
		}
	}
	if cleared > 0 {
		s.log.Info("stale sanction flags cleared", slog.Int("users", cleared))
	}
	return cleared, nil
}

// Get returns a sanction by ID.
func (s *SanctionLedger) Get(ctx context.Context, id int64) (*Sanction, error) {
	sn, err := s.store.GetSanction(ctx, id)
	if err != nil {
		return nil, infraErr("get sanction", err)
	}
	if sn == nil {
		return nil, ruleErr("get sanction", KindSanctionNotFound, "sanction %d", id)
	}
	return sn, nil
}

// List returns sanctions matching f.
func (s *SanctionLedger) List(ctx context.Context, f SanctionFilter) ([]Sanction, error) {
	out, err := s.store.ListSanctions(ctx, f)
	return out, infraErr("list sanctions", err)
}

func sanctionNotification(d *deps, s Sanction) Notification {
	return Notification{
		Kind:    NotifySanctionCreated,
		UserID:  s.UserID,
		Subject: "Sanction applied",
		Body: fmt.Sprintf("Sanction #%d: %s. Amount %s, blocked until %s.",
			s.ID, s.Reason, s.Amount.StringFixed(2), d.formatTime(s.EndsAt)),
	}
}
