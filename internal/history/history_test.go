package history

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisbulk/internal/dispatch"
	"github.com/thrillee/aegisbulk/pkg/codes"
)

// assign copies values into Scan destinations.
func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, v := range values {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	data [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return assign(r.data[r.pos-1], dest) }

type fakeDB struct {
	execSQL  string
	execArgs []any
	execErr  error
	rows     []fakeRow // returned by QueryRow in order
	query    [][]any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL, f.execArgs = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &fakeRows{data: f.query}, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	if len(f.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	r := f.rows[0]
	f.rows = f.rows[1:]
	return r
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 0.0, SuccessRate(0, 0))
	assert.Equal(t, 0.75, SuccessRate(12, 16))
	assert.Equal(t, 1.0, SuccessRate(int64(3), int64(3)))
}

func sampleSummary() dispatch.Summary {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return dispatch.Summary{
		RunID: "run-1", Mode: codes.ModeGroup, SenderID: "ACME",
		Units: 4, Succeeded: 3, Failed: 1, Recipients: 400, SentRecipients: 300,
		QuotedCost: decimal.RequireFromString("1280.50"),
		Items: []dispatch.DispatchItem{
			{ID: "u1", UnitRef: "b1", Label: "Batch 1", Status: codes.UnitStatusSuccess, RecipientCount: 100, SentCount: 100},
			{ID: "u2", UnitRef: "b2", Label: "Batch 2", Status: codes.UnitStatusFailed, RecipientCount: 100, Error: "rejected"},
		},
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
	}
}

func TestFromSummary(t *testing.T) {
	r := FromSummary("sess-1", sampleSummary())
	assert.Equal(t, "run-1", r.ID)
	assert.Equal(t, "sess-1", r.SessionID)
	assert.Equal(t, codes.RunStatusCompleted, r.Status)
	assert.Equal(t, 0.75, r.SuccessRate)
	assert.True(t, r.QuotedCost.Equal(decimal.RequireFromString("1280.5")))

	s := sampleSummary()
	s.Aborted = true
	assert.Equal(t, codes.RunStatusAborted, FromSummary("x", s).Status)
}

func TestRecord_PassesItemsAsArrays(t *testing.T) {
	db := &fakeDB{}
	s := sampleSummary()
	require.NoError(t, NewStore(db).Record(context.Background(), FromSummary("sess-1", s), s.Items))

	require.Len(t, db.execArgs, 21)
	assert.Equal(t, "run-1", db.execArgs[0])
	assert.Equal(t, []string{"u1", "u2"}, db.execArgs[14])
	assert.Equal(t, []string{"b1", "b2"}, db.execArgs[15])
	assert.Equal(t, []int32{100, 100}, db.execArgs[18])
	assert.Equal(t, []int32{100, 0}, db.execArgs[19])
	assert.Equal(t, []string{"", "rejected"}, db.execArgs[20])

	boom := errors.New("boom")
	err := NewStore(&fakeDB{execErr: boom}).Record(context.Background(), FromSummary("s", s), nil)
	assert.ErrorIs(t, err, boom)
}

func runValues(id string, succeeded, units int) []any {
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return []any{id, "sess", codes.ModeGroup, "ACME", codes.RunStatusCompleted,
		units, succeeded, units - succeeded, 0, units * 10, succeeded * 10,
		decimal.NewFromInt(40), ts, ts.Add(time.Minute)}
}

func TestGetAndList(t *testing.T) {
	store := NewStore(&fakeDB{rows: []fakeRow{{values: runValues("run-1", 1, 2)}}})
	r, err := store.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.SuccessRate)

	_, err = NewStore(&fakeDB{}).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	db := &fakeDB{
		rows:  []fakeRow{{values: []any{int64(7)}}},
		query: [][]any{runValues("a", 2, 2), runValues("b", 0, 0)},
	}
	runs, total, err := NewStore(db).List(context.Background(), 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, runs, 2)
	assert.Equal(t, 1.0, runs[0].SuccessRate)
	assert.Equal(t, 0.0, runs[1].SuccessRate)
}

func TestStats(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{{values: []any{
		int64(3), int64(10), int64(8), int64(2), int64(1000), decimal.NewFromInt(4000),
	}}}}
	st, err := NewStore(db).Stats(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Runs)
	assert.Equal(t, 0.8, st.SuccessRate)
	assert.True(t, st.QuotedCost.Equal(decimal.NewFromInt(4000)))
}
