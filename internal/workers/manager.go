package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thrillee/aegisbulk/internal/notification"
	"github.com/thrillee/aegisbulk/internal/wallet"
)

// Config holds worker intervals. A zero interval disables that worker.
type Config struct {
	SnapshotInterval    time.Duration
	SnapshotBatchSize   int
	LowBalanceInterval  time.Duration
	LowBalanceThreshold decimal.Decimal
	NotifyRecipient     string
}

// SnapshotFlusher persists dirty compose sessions.
type SnapshotFlusher interface {
	FlushSnapshots(ctx context.Context, limit int) (int, error)
}

// Manager orchestrates the background worker loops.
type Manager struct {
	flusher  SnapshotFlusher
	wallet   wallet.Service
	notifier notification.Notifier
	cfg      Config

	wg      sync.WaitGroup
	mu      sync.Mutex
	alerted bool // low-balance alert sent and balance not yet recovered
}

func NewManager(flusher SnapshotFlusher, w wallet.Service, notifier notification.Notifier, cfg Config) *Manager {
	return &Manager{flusher: flusher, wallet: w, notifier: notifier, cfg: cfg}
}

// Start launches the configured loops. They stop when ctx is done; Wait blocks until they have.
func (m *Manager) Start(ctx context.Context) {
	if m.flusher != nil && m.cfg.SnapshotInterval > 0 {
		m.spawn(ctx, "QueueSnapshot", m.cfg.SnapshotInterval, m.cfg.SnapshotBatchSize, m.flusher.FlushSnapshots)
	}
	if m.wallet != nil && m.notifier != nil && m.cfg.LowBalanceInterval > 0 && m.cfg.LowBalanceThreshold.IsPositive() {
		m.spawn(ctx, "LowBalanceNotifier", m.cfg.LowBalanceInterval, 1, m.checkLowBalance)
	}
}

func (m *Manager) spawn(ctx context.Context, name string, interval time.Duration, batchSize int, fn WorkerFunc) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		RunWorkerLoop(ctx, name, interval, batchSize, fn)
	}()
}

// Wait blocks until every started loop has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// checkLowBalance alerts once when the wallet drops below the threshold, and re-arms after a top-up.
func (m *Manager) checkLowBalance(ctx context.Context, _ int) (int, error) {
	snap, err := m.wallet.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !snap.Balance.LessThan(m.cfg.LowBalanceThreshold) {
		m.alerted = false
		return 0, nil
	}
	if m.alerted {
		return 0, nil
	}

	slog.WarnContext(ctx, "Low wallet balance detected",
		slog.String("balance", snap.Balance.String()),
		slog.String("threshold", m.cfg.LowBalanceThreshold.String()))

	subject := "Low Balance Alert - SMS Wallet"
	body := fmt.Sprintf("Your SMS wallet balance (%s) is below the threshold (%s). Please top up before the next bulk send.",
		snap.Balance.StringFixed(2), m.cfg.LowBalanceThreshold.StringFixed(2))
	if err := m.notifier.Send(ctx, m.cfg.NotifyRecipient, subject, body); err != nil {
		return 0, fmt.Errorf("failed to send low balance notification: %w", err)
	}
	m.alerted = true
	return 1, nil
}
