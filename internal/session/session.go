package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thrillee/aegisbulk/internal/batch"
	"github.com/thrillee/aegisbulk/internal/compose"
	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/dispatch"
	"github.com/thrillee/aegisbulk/internal/logging"
	"github.com/thrillee/aegisbulk/internal/queue"
	"github.com/thrillee/aegisbulk/internal/wallet"
	"github.com/thrillee/aegisbulk/pkg/codes"
)

var (
	ErrRunInProgress = errors.New("a dispatch run is already active for this session")
	ErrUnknownBatch  = errors.New("batch not found in session")
	ErrNoFailedUnits = errors.New("no failed units to retry")
	ErrInvalidMode   = errors.New("mode must be group or personalized")
)

// Limits are the per-session compose limits.
type Limits struct {
	MaxBatchSize     int
	SegmentCharLimit int
	MaxSegments      int
}

// Session is one operator's compose state: the batch queue, the selection,
// the message and the active dispatch run. All methods are safe for concurrent use.
type Session struct {
	id   string
	deps *deps

	mu        sync.Mutex
	batches   []batch.Batch
	selected  map[string]bool
	composer  *compose.Composer
	mode      string
	version   uint64
	saved     uint64
	updatedAt time.Time

	starting     bool
	run          *dispatch.Run
	stop         *dispatch.StopToken
	lastUnits    []dispatch.Unit
	lastSummary  *dispatch.Summary
	lastPlan     dispatch.Plan
	lastSegments int
	progress     []dispatch.Update // Updates of the active or last run, replayed to new subscribers
	subscribers  map[chan dispatch.Update]struct{}
}

// View is a read-only copy of session state for API responses.
type View struct {
	ID          string               `json:"id"`
	Batches     []batch.Batch        `json:"batches"`
	Selected    []string             `json:"selected"`
	Total       int                  `json:"total_contacts"`
	Mode        string               `json:"mode"`
	Message     compose.MessageSpec  `json:"message"`
	Final       string               `json:"final_message"`
	Segments    int                  `json:"segment_count"`
	Encoding    compose.EncodingInfo `json:"encoding"`
	Running     bool                 `json:"running"`
	LastSummary *dispatch.Summary    `json:"last_summary,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func newSession(id string, d *deps) *Session {
	return &Session{
		id:          id,
		deps:        d,
		selected:    make(map[string]bool),
		composer:    compose.NewComposer(d.limits.SegmentCharLimit, d.limits.MaxSegments),
		mode:        codes.ModeGroup,
		subscribers: make(map[chan dispatch.Update]struct{}),
		updatedAt:   d.now(),
	}
}

func (s *Session) ID() string { return s.id }

// touch records a mutation. Caller holds mu.
func (s *Session) touch() {
	s.version++
	s.updatedAt = s.deps.now()
}

// AddContacts appends an ingestion result to the batch queue. New batches start selected.
// It returns the number of batches opened.
func (s *Session) AddContacts(res contact.Result) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.batches)
	s.batches = batch.Append(res.Contacts, s.batches, s.deps.limits.MaxBatchSize)
	for _, b := range s.batches[before:] {
		s.selected[b.ID] = true
	}
	s.touch()
	return len(s.batches) - before
}

// RemoveBatch drops a batch. Remaining batches keep their numbers.
func (s *Session) RemoveBatch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil || s.starting {
		return ErrRunInProgress
	}
	remaining, ok := batch.Remove(s.batches, id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBatch, id)
	}
	s.batches = remaining
	delete(s.selected, id)
	s.touch()
	return nil
}

// SetSelection replaces the set of batches that will be sent.
func (s *Session) SetSelection(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := batch.Find(s.batches, id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownBatch, id)
		}
		want[id] = true
	}
	for _, b := range s.batches {
		s.selected[b.ID] = want[b.ID]
	}
	s.touch()
	return nil
}

// SetMode switches between one call per batch and one call per row.
func (s *Session) SetMode(mode string) error {
	if mode != codes.ModeGroup && mode != codes.ModePersonalized {
		return ErrInvalidMode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.touch()
	return nil
}

// Compose runs fn against the session's composer under the session lock.
func (s *Session) Compose(fn func(*compose.Composer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.composer); err != nil {
		return err
	}
	s.touch()
	return nil
}

// View snapshots the session for display.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:          s.id,
		Batches:     append([]batch.Batch(nil), s.batches...),
		Total:       batch.Total(s.batches),
		Mode:        s.mode,
		Message:     s.composer.Spec(),
		Final:       s.composer.FinalMessage(),
		Segments:    s.composer.SegmentCount(),
		Encoding:    s.composer.Encoding(),
		Running:     s.run != nil || s.starting,
		LastSummary: s.lastSummary,
		UpdatedAt:   s.updatedAt,
	}
	v.Selected = s.selectedIDs()
	return v
}

// selectedIDs lists selected batch ids in queue order. Caller holds mu.
func (s *Session) selectedIDs() []string {
	out := make([]string, 0, len(s.batches))
	for _, b := range s.batches {
		if s.selected[b.ID] {
			out = append(out, b.ID)
		}
	}
	return out
}

// selectedBatches returns the batches chosen for sending. Caller holds mu.
func (s *Session) selectedBatches() []batch.Batch {
	out := make([]batch.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		if s.selected[b.ID] {
			out = append(out, b)
		}
	}
	return out
}

// Quote prices the current selection and message against a fresh wallet snapshot.
func (s *Session) Quote(ctx context.Context) (wallet.CostQuote, dispatch.BuildResult, error) {
	s.mu.Lock()
	built := dispatch.BuildUnits(s.selectedBatches(), s.deps.normalizer, s.mode)
	segments := s.composer.SegmentCount()
	s.mu.Unlock()

	q, _, err := s.deps.wallet.QuoteFor(ctx, built.Recipients, segments)
	if err != nil {
		return wallet.CostQuote{}, built, err
	}
	q.Skipped = built.Skipped
	return q, built, nil
}

// StartDispatch sends the selected batches with the current message.
func (s *Session) StartDispatch(ctx context.Context, senderID string) (*dispatch.Run, error) {
	s.mu.Lock()
	if s.run != nil || s.starting {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.starting = true
	stop := dispatch.NewStopToken()
	s.stop = stop
	built := dispatch.BuildUnits(s.selectedBatches(), s.deps.normalizer, s.mode)
	plan := s.planLocked(senderID)
	segments := s.composer.SegmentCount()
	s.mu.Unlock()

	plan.Units = built.Units
	return s.launch(ctx, plan, stop, segments, built.Skipped)
}

// Retry re-sends only the failed units of the last run.
func (s *Session) Retry(ctx context.Context) (*dispatch.Run, error) {
	s.mu.Lock()
	if s.run != nil || s.starting {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	if s.lastSummary == nil {
		s.mu.Unlock()
		return nil, ErrNoFailedUnits
	}
	units := dispatch.FailedUnits(*s.lastSummary, s.lastUnits)
	if len(units) == 0 {
		s.mu.Unlock()
		return nil, ErrNoFailedUnits
	}
	s.starting = true
	stop := dispatch.NewStopToken()
	s.stop = stop
	plan := s.lastPlan
	segments := s.lastSegments
	s.mu.Unlock()

	plan.Units = units
	return s.launch(ctx, plan, stop, segments, 0)
}

// planLocked builds the message part of a plan from the composer. Caller holds mu.
func (s *Session) planLocked(senderID string) dispatch.Plan {
	spec := s.composer.Spec()
	plan := dispatch.Plan{
		Mode:       s.mode,
		Message:    s.composer.FinalMessage(),
		SenderID:   senderID,
		TemplateID: spec.TemplateID,
	}
	if s.mode == codes.ModePersonalized {
		body := plan.Message
		plan.Render = func(c contact.Contact) string { return compose.Render(body, c) }
	}
	return plan
}

// launch runs plan with a stop token already published on the session, so a Stop
// issued while the quote is being checked still reaches the run.
func (s *Session) launch(ctx context.Context, plan dispatch.Plan, stop *dispatch.StopToken, segments, skipped int) (*dispatch.Run, error) {
	ctx = logging.ContextWithSessionID(ctx, s.id)
	release := func() {
		s.mu.Lock()
		s.starting = false
		s.stop = nil
		s.mu.Unlock()
	}

	q, _, err := s.deps.wallet.QuoteFor(ctx, dispatch.CountRecipients(plan.Units), segments)
	if err != nil {
		release()
		return nil, err
	}
	q.Skipped = skipped
	plan.Quote = q

	// Runs outlive the request that started them.
	runCtx := logging.ContextWithSessionID(context.WithoutCancel(ctx), s.id)
	run, err := s.deps.engine.Start(runCtx, plan, stop)
	if err != nil {
		release()
		return nil, err
	}

	s.mu.Lock()
	s.starting = false
	s.run = run
	s.progress = nil
	s.lastUnits = plan.Units
	s.lastPlan = plan
	s.lastPlan.Units = nil
	s.lastSegments = segments
	s.mu.Unlock()

	go s.watch(runCtx, run)
	return run, nil
}

// watch fans run updates out to subscribers and records the summary.
func (s *Session) watch(ctx context.Context, run *dispatch.Run) {
	for u := range run.Updates() {
		s.mu.Lock()
		s.progress = append(s.progress, u)
		for ch := range s.subscribers {
			select {
			case ch <- u:
			default:
				// Slow subscriber; it can re-read Status.
			}
		}
		s.mu.Unlock()
	}
	summary := run.Wait()

	s.mu.Lock()
	s.run = nil
	s.stop = nil
	s.lastSummary = &summary
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()

	if s.deps.onFinished != nil {
		s.deps.onFinished(ctx, s.id, summary)
	}
}

// Stop asks the active run to start no new sends. It reports whether a run was active.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return false
	}
	s.stop.Stop()
	slog.Info("Dispatch stop requested", slog.String("session_id", s.id))
	return true
}

// Status returns the items of the active run, or of the last finished run.
func (s *Session) Status() (items []dispatch.DispatchItem, running bool, summary *dispatch.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return s.run.Items(), true, nil
	}
	if s.lastSummary != nil {
		return s.lastSummary.Items, false, s.lastSummary
	}
	return nil, s.starting, nil
}

// Subscribe streams updates of the active run, starting with every update it has
// already emitted. The channel closes when the run ends; with no active run it holds
// the last run's updates and is returned closed.
func (s *Session) Subscribe() (<-chan dispatch.Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan dispatch.Update, len(s.progress)+64)
	for _, u := range s.progress {
		ch <- u
	}
	if s.run == nil {
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
}

// Snapshot captures the recoverable part of the session.
func (s *Session) Snapshot() (queue.Snapshot, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queue.Snapshot{
		SessionID: s.id,
		Batches:   append([]batch.Batch(nil), s.batches...),
		Selected:  s.selectedIDs(),
		Mode:      s.mode,
		Message:   s.composer.Spec(),
		SavedAt:   s.deps.now(),
	}, s.version
}

// Dirty reports whether the session changed since the last saved snapshot.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != s.saved
}

// MarkSaved records that the snapshot at version was persisted.
func (s *Session) MarkSaved(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.saved {
		s.saved = version
	}
}

// restore loads a snapshot into a fresh session.
func (s *Session) restore(snap queue.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.composer.Restore(snap.Message); err != nil {
		return fmt.Errorf("restore message: %w", err)
	}
	s.batches = snap.Batches
	for _, id := range snap.Selected {
		s.selected[id] = true
	}
	for _, b := range s.batches {
		if _, ok := s.selected[b.ID]; !ok {
			s.selected[b.ID] = false
		}
	}
	if snap.Mode != "" {
		s.mode = snap.Mode
	}
	s.version = 1
	s.saved = 1
	return nil
}
