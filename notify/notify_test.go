package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/notify"
)

type notifierFunc func(context.Context, circulation.Notification) error

func (f notifierFunc) Notify(ctx context.Context, n circulation.Notification) error { return f(ctx, n) }

var returned = circulation.Notification{
	Kind:    circulation.NotifyLoanReturned,
	UserID:  3,
	Subject: "Loan returned",
	Body:    "Cien años de soledad",
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	sink := notify.Logger{Log: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, sink.Notify(context.Background(), returned))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "notification", rec["msg"])
	assert.Equal(t, "loan_returned", rec["kind"])
	assert.Equal(t, float64(3), rec["user_id"])
	assert.Equal(t, "Loan returned", rec["subject"])
}

func TestMulti(t *testing.T) {
	first, second := errors.New("smtp down"), errors.New("queue full")
	var delivered []string
	sink := func(name string, err error) circulation.Notifier {
		return notifierFunc(func(_ context.Context, n circulation.Notification) error {
			delivered = append(delivered, name+":"+n.Subject)
			return err
		})
	}

	// GIVEN: two failing sinks around a working one
	m := notify.Multi{sink("a", first), sink("b", nil), sink("c", second)}

	// WHEN: a notification goes out
	err := m.Notify(context.Background(), returned)

	// THEN: every sink saw it and both failures are reported
	assert.Equal(t, []string{"a:Loan returned", "b:Loan returned", "c:Loan returned"}, delivered)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)

	assert.NoError(t, notify.Multi{}.Notify(context.Background(), returned))
}
