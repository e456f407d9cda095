package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertBook(t *testing.T, store *sqlite.Store, title string, copies int) int64 {
	t.Helper()
	var id int64
	err := store.WithTx(context.Background(), func(tx circulation.Tx) error {
		var err error
		id, err = tx.InsertBook(context.Background(), &circulation.Book{
			Title: title, TotalCopies: copies, AvailableCopies: copies, Active: true,
		})
		return err
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestStore_SeedsConfiguration(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	params, err := store.ListParams(ctx)
	require.NoError(t, err)
	assert.Len(t, params, len(circulation.ParamSpecs))

	p, err := store.Params(ctx)
	require.NoError(t, err)
	assert.Equal(t, circulation.DefaultParams(), p)
}

func TestStore_SetParam(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	updated, err := store.SetParam(ctx, circulation.ParamFinePerDay, " 3.50 ")
	require.NoError(t, err)
	assert.Equal(t, "3.50", updated.Value)
	assert.True(t, updated.Editable)

	p, err := store.Params(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.50", p.FinePerDay.StringFixed(2), "next snapshot sees the new value")

	tests := []struct {
		name, param, value string
		kind               circulation.Kind
	}{
		{"unknown name", "loan_days_janitor", "3", circulation.KindParamNotFound},
		{"not a number", circulation.ParamMaxRenewals, "two", circulation.KindInvalidArgument},
		{"negative", circulation.ParamLoanDaysStudent, "-1", circulation.KindInvalidArgument},
		{"locked", circulation.ParamLibraryName, "Other Library", circulation.KindParamNotEditable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.SetParam(ctx, tt.param, tt.value)
			require.Error(t, err)
			assert.Equal(t, tt.kind, circulation.KindOf(err))
		})
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := insertBook(t, store, "Ficciones", 2)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx circulation.Tx) error {
		if err := tx.AdjustStock(ctx, id, -2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := store.GetBook(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, b.AvailableCopies)
	assert.Equal(t, 2, b.TotalCopies)
}

func TestStore_MissingRowsAreNil(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	b, err := store.GetBook(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, b)
	u, err := store.GetUserByUsername(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)

	err = store.WithTx(ctx, func(tx circulation.Tx) error {
		l, err := tx.LockLoan(ctx, 42)
		assert.Nil(t, l)
		return err
	})
	assert.NoError(t, err)
}

func TestStore_ConstraintsBecomeDomainErrors(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := insertBook(t, store, "Ficciones", 1)

	// available may never go negative
	err := store.WithTx(ctx, func(tx circulation.Tx) error {
		return tx.AdjustStock(ctx, id, -2)
	})
	assert.Equal(t, circulation.KindInvalidArgument, circulation.KindOf(err), "error: %v", err)

	err = store.WithTx(ctx, func(tx circulation.Tx) error {
		_, err := tx.InsertAuthor(ctx, &circulation.Author{Name: "Borges"})
		if err != nil {
			return err
		}
		_, err = tx.InsertAuthor(ctx, &circulation.Author{Name: "Borges"})
		return err
	})
	assert.Equal(t, circulation.KindDuplicate, circulation.KindOf(err))

	authors, err := store.ListAuthors(ctx)
	require.NoError(t, err)
	assert.Empty(t, authors, "the first insert rolled back with the second")

	err = store.WithTx(ctx, func(tx circulation.Tx) error {
		_, err := tx.InsertLoan(ctx, &circulation.Loan{
			BookID: id, UserID: 999, OperatorID: 998, State: circulation.LoanActive, Quantity: 1,
		})
		return err
	})
	assert.Equal(t, circulation.KindInvalidArgument, circulation.KindOf(err), "unknown user is a foreign key failure")
}

func TestStore_FileDatabaseKeepsEditedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = store.SetParam(ctx, circulation.ParamMaxLoansTeacher, "9")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()
	p, err := reopened.Params(ctx)
	require.NoError(t, err)
	teacher, _ := p.Policy(circulation.RoleTeacher)
	assert.Equal(t, 9, teacher.MaxLoans, "migration does not reseed edited values")
}

// =============================================================================
// RESET
// =============================================================================

func TestStore_Reset(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	insertBook(t, store, "Ficciones", 1)
	_, err := store.SetParam(ctx, circulation.ParamMaxRenewals, "4")
	require.NoError(t, err)
	require.NoError(t, store.Notify(ctx, circulation.Notification{Kind: circulation.NotifyLoanRegistered, Subject: "s", Body: "b"}))

	require.NoError(t, store.Reset(ctx))

	books, err := store.ListBooks(ctx, circulation.BookFilter{})
	require.NoError(t, err)
	assert.Empty(t, books)
	p, err := store.Params(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.MaxRenewals, "configuration back to defaults")
	queued, err := store.ListOutbox(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, queued)

	id := insertBook(t, store, "Again", 1)
	assert.Equal(t, int64(1), id, "ids restart after reset")
}

// =============================================================================
// OUTBOX
// =============================================================================

func TestOutbox_QueueAndMarkSent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Notify(ctx, circulation.Notification{
		Kind: circulation.NotifySanctionCreated, UserID: 7, Subject: "Sanction applied", Body: "blocked",
	}))
	require.NoError(t, store.Notify(ctx, circulation.Notification{
		Kind: circulation.NotifyLoanReturned, Subject: "Loan returned", Body: "ok",
	}))

	pending, err := store.ListOutbox(ctx, sqlite.OutboxPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	var withUser, withoutUser sqlite.OutboxMessage
	for _, m := range pending {
		if m.UserID != nil {
			withUser = m
		} else {
			withoutUser = m
		}
	}
	require.NotNil(t, withUser.UserID)
	assert.Equal(t, int64(7), *withUser.UserID)
	assert.Equal(t, "sanction_created", withUser.Kind)
	assert.Equal(t, "loan_returned", withoutUser.Kind)

	require.NoError(t, store.MarkSent(ctx, withUser.ID))
	pending, err = store.ListOutbox(ctx, sqlite.OutboxPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, withoutUser.ID, pending[0].ID)

	limited, err := store.ListOutbox(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	err = store.MarkSent(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, circulation.ErrInvalidArgument)
	err = store.MarkSent(ctx, "6f1c1b2e-8a4d-4c3f-9d3a-2b1e0f5a7c9d")
	assert.ErrorIs(t, err, circulation.ErrInvalidArgument)
}
