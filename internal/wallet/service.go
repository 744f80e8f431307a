package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNegativeUnitCost = errors.New("wallet reported a negative unit cost")

// Stats is the balance and per-SMS price reported by the platform.
type Stats struct {
	Balance  decimal.Decimal `json:"balance"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// StatsSource is the remote wallet API.
type StatsSource interface {
	GetWalletStats(ctx context.Context) (Stats, error)
}

// Snapshot is a point-in-time copy of the wallet used for one run.
// It is not refreshed while the run is in progress.
type Snapshot struct {
	Stats
	TakenAt time.Time `json:"taken_at"`
}

// Service defines wallet operations the compose flow depends on.
type Service interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	QuoteFor(ctx context.Context, recipients, segments int) (CostQuote, Snapshot, error)
}

// service implements the Wallet Service.
type service struct {
	source StatsSource
	now    func() time.Time
}

// NewService creates a new wallet service.
func NewService(source StatsSource) Service {
	return &service{source: source, now: time.Now}
}

// Snapshot fetches the current balance and unit cost once.
func (s *service) Snapshot(ctx context.Context) (Snapshot, error) {
	stats, err := s.source.GetWalletStats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch wallet stats", slog.Any("error", err))
		return Snapshot{}, fmt.Errorf("failed to fetch wallet stats: %w", err)
	}
	if stats.UnitCost.IsNegative() {
		slog.ErrorContext(ctx, ErrNegativeUnitCost.Error(), slog.String("unit_cost", stats.UnitCost.String()))
		return Snapshot{}, ErrNegativeUnitCost
	}

	slog.DebugContext(ctx, "Wallet snapshot taken",
		slog.String("balance", stats.Balance.String()),
		slog.String("unit_cost", stats.UnitCost.String()),
	)
	return Snapshot{Stats: stats, TakenAt: s.now()}, nil
}

// QuoteFor takes a snapshot and prices a send against it.
func (s *service) QuoteFor(ctx context.Context, recipients, segments int) (CostQuote, Snapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return CostQuote{}, Snapshot{}, err
	}
	q := Quote(recipients, segments, snap.UnitCost, snap.Balance)
	if q.Insufficient {
		slog.WarnContext(ctx, "Quote exceeds wallet balance",
			slog.String("total", q.Total.String()),
			slog.String("balance", q.Balance.String()),
		)
	}
	return q, snap, nil
}
