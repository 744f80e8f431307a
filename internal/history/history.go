package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/thrillee/aegisbulk/internal/dispatch"
)

var ErrRunNotFound = errors.New("dispatch run not found")

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Run is one finished dispatch run as stored for reporting.
type Run struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Mode           string          `json:"mode"`
	SenderID       string          `json:"sender_id"`
	Status         string          `json:"status"`
	Units          int             `json:"units"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	NotStarted     int             `json:"not_started"`
	Recipients     int             `json:"recipients"`
	SentRecipients int             `json:"sent_recipients"`
	QuotedCost     decimal.Decimal `json:"quoted_cost"`
	SuccessRate    float64         `json:"success_rate"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Stats aggregates runs finished since a point in time.
type Stats struct {
	Runs        int64           `json:"runs"`
	Units       int64           `json:"units"`
	Succeeded   int64           `json:"succeeded"`
	Failed      int64           `json:"failed"`
	Recipients  int64           `json:"recipients"`
	QuotedCost  decimal.Decimal `json:"quoted_cost"`
	SuccessRate float64         `json:"success_rate"`
}

// Store records and lists dispatch runs.
type Store interface {
	Record(ctx context.Context, run Run, items []dispatch.DispatchItem) error
	Get(ctx context.Context, id string) (Run, error)
	List(ctx context.Context, limit, offset int32) ([]Run, int64, error)
	Stats(ctx context.Context, since time.Time) (Stats, error)
}

// SuccessRate is succeeded over total units, 0 for an empty run.
func SuccessRate[T int | int64](succeeded, total T) float64 {
	if total <= 0 {
		return 0
	}
	return float64(succeeded) / float64(total)
}

// FromSummary flattens an engine summary into a history row.
func FromSummary(sessionID string, s dispatch.Summary) Run {
	return Run{
		ID:             s.RunID,
		SessionID:      sessionID,
		Mode:           s.Mode,
		SenderID:       s.SenderID,
		Status:         s.Status(),
		Units:          s.Units,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		NotStarted:     s.NotStarted,
		Recipients:     s.Recipients,
		SentRecipients: s.SentRecipients,
		QuotedCost:     s.QuotedCost,
		SuccessRate:    SuccessRate(s.Succeeded, s.Units),
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
	}
}

type pgStore struct {
	db DBTX
}

// NewStore creates a Postgres-backed history store.
func NewStore(db DBTX) Store {
	return &pgStore{db: db}
}

const insertRun = `
WITH run AS (
	INSERT INTO dispatch_runs (
		id, session_id, mode, sender_id, status, units, succeeded, failed, not_started,
		recipients, sent_recipients, quoted_cost, started_at, finished_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id
)
INSERT INTO dispatch_run_items (run_id, unit_id, batch_id, label, status, recipient_count, sent_count, error)
SELECT run.id, i.unit_id, i.batch_id, i.label, i.status, i.recipient_count, i.sent_count, NULLIF(i.error, '')
FROM run, unnest($15::text[], $16::text[], $17::text[], $18::text[], $19::int[], $20::int[], $21::text[])
	AS i(unit_id, batch_id, label, status, recipient_count, sent_count, error)`

// Record stores a run and its units in one statement.
func (s *pgStore) Record(ctx context.Context, run Run, items []dispatch.DispatchItem) error {
	var (
		unitIDs, batchIDs, labels, statuses, errs []string
		counts, sent                              []int32
	)
	for _, it := range items {
		unitIDs = append(unitIDs, it.ID)
		batchIDs = append(batchIDs, it.UnitRef)
		labels = append(labels, it.Label)
		statuses = append(statuses, it.Status)
		counts = append(counts, int32(it.RecipientCount))
		sent = append(sent, int32(it.SentCount))
		errs = append(errs, it.Error)
	}

	_, err := s.db.Exec(ctx, insertRun,
		run.ID, run.SessionID, run.Mode, run.SenderID, run.Status,
		run.Units, run.Succeeded, run.Failed, run.NotStarted,
		run.Recipients, run.SentRecipients, run.QuotedCost, run.StartedAt, run.FinishedAt,
		unitIDs, batchIDs, labels, statuses, counts, sent, errs,
	)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record dispatch run", slog.String("run_id", run.ID), slog.Any("error", err))
		return fmt.Errorf("failed to record dispatch run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, session_id, mode, sender_id, status, units, succeeded, failed, not_started,
	recipients, sent_recipients, quoted_cost, started_at, finished_at`

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.SessionID, &r.Mode, &r.SenderID, &r.Status,
		&r.Units, &r.Succeeded, &r.Failed, &r.NotStarted,
		&r.Recipients, &r.SentRecipients, &r.QuotedCost, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return Run{}, err
	}
	r.SuccessRate = SuccessRate(r.Succeeded, r.Units)
	return r, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM dispatch_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get dispatch run %s: %w", id, err)
	}
	return r, nil
}

// List returns runs newest first and the total row count.
func (s *pgStore) List(ctx context.Context, limit, offset int32) ([]Run, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM dispatch_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count dispatch runs: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM dispatch_runs ORDER BY finished_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dispatch runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan dispatch run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

const statsQuery = `
SELECT count(*),
	COALESCE(sum(units), 0),
	COALESCE(sum(succeeded), 0),
	COALESCE(sum(failed), 0),
	COALESCE(sum(recipients), 0),
	COALESCE(sum(quoted_cost), 0)
FROM dispatch_runs
WHERE finished_at >= $1`

func (s *pgStore) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, statsQuery, since).
		Scan(&st.Runs, &st.Units, &st.Succeeded, &st.Failed, &st.Recipients, &st.QuotedCost)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate dispatch runs: %w", err)
	}
	st.SuccessRate = SuccessRate(st.Succeeded, st.Units)
	return st, nil
}
