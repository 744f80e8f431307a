package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thrillee/aegisbulk/internal/dispatch"
	"github.com/thrillee/aegisbulk/internal/queue"
	"github.com/thrillee/aegisbulk/internal/wallet"
	"github.com/thrillee/aegisbulk/pkg/msisdn"
)

var ErrNotFound = errors.New("session not found")

// FinishedFunc is called once per run after its summary is final.
type FinishedFunc func(ctx context.Context, sessionID string, summary dispatch.Summary)

// SnapshotStore persists session snapshots for crash recovery.
type SnapshotStore interface {
	Save(ctx context.Context, snap queue.Snapshot) error
	Load(ctx context.Context, sessionID string) (queue.Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// Config wires a Manager.
type Config struct {
	Limits     Limits
	Normalizer *msisdn.Normalizer
	Wallet     wallet.Service
	Engine     *dispatch.Engine
	Store      SnapshotStore // Optional
	OnFinished FinishedFunc  // Optional
}

type deps struct {
	limits     Limits
	normalizer *msisdn.Normalizer
	wallet     wallet.Service
	engine     *dispatch.Engine
	onFinished FinishedFunc
	now        func() time.Time
}

// Manager owns the live sessions.
type Manager struct {
	deps  *deps
	store SnapshotStore

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		deps: &deps{
			limits:     cfg.Limits,
			normalizer: cfg.Normalizer,
			wallet:     cfg.Wallet,
			engine:     cfg.Engine,
			onFinished: cfg.OnFinished,
			now:        time.Now,
		},
		store:    cfg.Store,
		sessions: make(map[string]*Session),
	}
}

// Create opens an empty session.
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.deps)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

// Get returns a live session, falling back to a saved snapshot.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if m.store == nil {
		return nil, ErrNotFound
	}

	snap, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrSnapshotNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	restored := newSession(id, m.deps)
	if err := restored.restore(snap); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = restored
	slog.InfoContext(ctx, "Session restored from snapshot", slog.String("session_id", id), slog.Int("batches", len(snap.Batches)))
	return restored, nil
}

// Delete forgets a session and its snapshot. A session with an active run is kept.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		if _, running, _ := s.Status(); running {
			m.mu.Unlock()
			return ErrRunInProgress
		}
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			return err
		}
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

// Dirty lists sessions with unsaved changes.
func (m *Manager) Dirty() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.Dirty() {
			out = append(out, s)
		}
	}
	return out
}

// FlushSnapshots saves up to limit dirty sessions. It returns how many were saved.
func (m *Manager) FlushSnapshots(ctx context.Context, limit int) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	saved := 0
	var errs []error
	for _, s := range m.Dirty() {
		if limit > 0 && saved >= limit {
			break
		}
		snap, version := s.Snapshot()
		if err := m.store.Save(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
			continue
		}
		s.MarkSaved(version)
		saved++
	}
	return saved, errors.Join(errs...)
}
