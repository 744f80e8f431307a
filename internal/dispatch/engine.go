package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/gateway"
	"github.com/thrillee/aegisbulk/internal/logging"
	"github.com/thrillee/aegisbulk/internal/wallet"
	"github.com/thrillee/aegisbulk/pkg/codes"
	"github.com/thrillee/aegisbulk/pkg/errormapper"
)

const DefaultConcurrency = 5

const (
	ModeGroup        = codes.ModeGroup
	ModePersonalized = codes.ModePersonalized

	StatusPending = codes.UnitStatusPending
	StatusSending = codes.UnitStatusSending
	StatusSuccess = codes.UnitStatusSuccess
	StatusFailed  = codes.UnitStatusFailed
)

var senderIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{3,11}$`)

// ErrStopped marks rows left unsent because the run was stopped.
var ErrStopped = errors.New("dispatch stopped before this recipient was sent")

// PreconditionError means the run was refused before any send was attempted.
type PreconditionError struct {
	Code string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("dispatch precondition failed: %s", errormapper.Message(e.Code))
}

// Plan is everything one run needs.
type Plan struct {
	Units      []Unit
	Mode       string
	Message    string
	Render     func(contact.Contact) string // Personalized mode; nil sends Message unchanged
	SenderID   string
	TemplateID *string
	Quote      wallet.CostQuote
}

// DispatchItem is the tracked state of one unit.
type DispatchItem struct {
	ID               string   `json:"id"`
	UnitRef          string   `json:"unit_ref"`
	Label            string   `json:"label"`
	Status           string   `json:"status"`
	Error            string   `json:"error,omitempty"`
	RecipientCount   int      `json:"recipient_count"`
	SentCount        int      `json:"sent_count"`
	FailedRecipients []string `json:"failed_recipients,omitempty"` // Contact ids, personalized mode
}

// Update is an immutable progress snapshot for one unit.
type Update struct {
	RunID  string    `json:"run_id"`
	UnitID string    `json:"unit_id"`
	Index  int       `json:"index"`
	Status string    `json:"status"`
	Sent   int       `json:"sent"`
	Total  int       `json:"total"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Summary is the aggregate outcome of a run.
type Summary struct {
	RunID          string          `json:"run_id"`
	Mode           string          `json:"mode"`
	SenderID       string          `json:"sender_id"`
	Units          int             `json:"units"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	NotStarted     int             `json:"not_started"`
	Recipients     int             `json:"recipients"`
	SentRecipients int             `json:"sent_recipients"`
	QuotedCost     decimal.Decimal `json:"quoted_cost"`
	Aborted        bool            `json:"aborted"`
	Items          []DispatchItem  `json:"items"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Status is the run-level outcome label.
func (s Summary) Status() string {
	if s.Aborted {
		return codes.RunStatusAborted
	}
	return codes.RunStatusCompleted
}

// StopToken is a cooperative abort flag. Safe for concurrent use.
type StopToken struct {
	stopped atomic.Bool
}

func NewStopToken() *StopToken { return &StopToken{} }

// Stop asks the run to start no new sends.
func (t *StopToken) Stop() {
	if t != nil {
		t.stopped.Store(true)
	}
}

func (t *StopToken) Stopped() bool {
	return t != nil && t.stopped.Load()
}

// Options tunes the engine.
type Options struct {
	Concurrency int
	Metrics     *Metrics
}

// Engine drives sends against the gateway with a bounded window.
type Engine struct {
	sender      gateway.Sender
	concurrency int
	metrics     *Metrics
	now         func() time.Time
}

func NewEngine(sender gateway.Sender, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Engine{sender: sender, concurrency: opts.Concurrency, metrics: opts.Metrics, now: time.Now}
}

// Validate checks the run preconditions in order and returns the first failure.
func Validate(p Plan) error {
	switch {
	case !senderIDPattern.MatchString(p.SenderID):
		return &PreconditionError{Code: errormapper.ErrorCodeInvalidSenderID}
	case strings.TrimSpace(p.Message) == "":
		return &PreconditionError{Code: errormapper.ErrorCodeEmptyMessage}
	case CountRecipients(p.Units) == 0:
		return &PreconditionError{Code: errormapper.ErrorCodeNoRecipients}
	case p.Quote.Insufficient:
		return &PreconditionError{Code: errormapper.ErrorCodeInsufficientFunds}
	}
	return nil
}

// Run is one in-progress dispatch.
type Run struct {
	id      string
	plan    Plan
	updates chan Update
	done    chan struct{}

	mu      sync.Mutex
	items   []DispatchItem
	summary Summary
	skipped atomic.Bool // Stop observed with work left undone
}

func (r *Run) ID() string { return r.id }

// Updates streams progress snapshots. The channel is closed when the run ends.
// It is sized to hold every update of the run, so a slow reader never stalls sends.
func (r *Run) Updates() <-chan Update { return r.updates }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns its summary.
func (r *Run) Wait() Summary {
	<-r.done
	return r.summary
}

// Items returns a copy of the current per-unit state.
func (r *Run) Items() []DispatchItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DispatchItem, len(r.items))
	copy(out, r.items)
	for i := range out {
		out[i].FailedRecipients = append([]string(nil), out[i].FailedRecipients...)
	}
	return out
}

// Start validates the plan and begins sending in the background.
// A precondition failure returns *PreconditionError and makes no gateway calls.
func (e *Engine) Start(ctx context.Context, plan Plan, stop *StopToken) (*Run, error) {
	if plan.Mode == "" {
		plan.Mode = ModeGroup
	}
	if err := Validate(plan); err != nil {
		slog.WarnContext(ctx, "Dispatch refused", slog.Any("error", err))
		e.metrics.runRefused(err)
		return nil, err
	}
	if stop == nil {
		stop = NewStopToken()
	}

	run := &Run{
		id:      uuid.NewString(),
		plan:    plan,
		updates: make(chan Update, updateCapacity(plan)),
		done:    make(chan struct{}),
		items:   make([]DispatchItem, len(plan.Units)),
	}
	for i, u := range plan.Units {
		run.items[i] = DispatchItem{
			ID:             u.ID,
			UnitRef:        u.Ref,
			Label:          u.Label,
			Status:         StatusPending,
			RecipientCount: len(u.Recipients),
		}
	}

	runCtx := logging.ContextWithRunID(ctx, run.id)
	runCtx = logging.ContextWithSenderID(runCtx, plan.SenderID)
	slog.InfoContext(runCtx, "Dispatch run starting",
		slog.String("mode", plan.Mode),
		slog.Int("units", len(plan.Units)),
		slog.Int("recipients", CountRecipients(plan.Units)),
		slog.Int("concurrency", e.concurrency),
	)

	go e.execute(runCtx, run, stop)
	return run, nil
}

// updateCapacity is the most updates a run can emit: sending and a final state per unit,
// plus one progress update per personalized row.
func updateCapacity(p Plan) int {
	n := 2 * len(p.Units)
	if p.Mode == ModePersonalized {
		n += CountRecipients(p.Units)
	}
	return n
}

func (e *Engine) execute(ctx context.Context, run *Run, stop *StopToken) {
	started := e.now()
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for i := range run.plan.Units {
		if stop.Stopped() || ctx.Err() != nil {
			run.skipped.Store(true)
			break
		}
		idx := i
		g.Go(func() error {
			// The window may have held this unit back; honour a stop issued meanwhile.
			if stop.Stopped() || ctx.Err() != nil {
				run.skipped.Store(true)
				return nil
			}
			e.runUnit(ctx, run, idx, stop)
			return nil
		})
	}
	_ = g.Wait()

	run.mu.Lock()
	s := Summary{
		RunID:      run.id,
		Mode:       run.plan.Mode,
		SenderID:   run.plan.SenderID,
		Units:      len(run.items),
		QuotedCost: run.plan.Quote.Total,
		StartedAt:  started,
		FinishedAt: e.now(),
		Items:      make([]DispatchItem, len(run.items)),
	}
	copy(s.Items, run.items)
	run.mu.Unlock()

	for _, item := range s.Items {
		s.Recipients += item.RecipientCount
		s.SentRecipients += item.SentCount
		switch item.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		default:
			s.NotStarted++
		}
	}
	// A stop that arrived after the last send changes nothing.
	s.Aborted = run.skipped.Load()

	run.summary = s
	e.metrics.runFinished(s)
	slog.InfoContext(ctx, "Dispatch run finished",
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Int("not_started", s.NotStarted),
		slog.Bool("aborted", s.Aborted),
		slog.Duration("duration", s.FinishedAt.Sub(s.StartedAt)),
	)
	close(run.updates)
	close(run.done)
}

func (e *Engine) runUnit(ctx context.Context, run *Run, idx int, stop *StopToken) {
	unit := run.plan.Units[idx]
	unitCtx := logging.ContextWithUnitID(ctx, unit.ID)
	unitCtx = logging.ContextWithBatchID(unitCtx, unit.Ref)

	e.transition(run, idx, func(it *DispatchItem) { it.Status = StatusSending })
	started := e.now()

	if run.plan.Mode == ModePersonalized {
		e.sendRows(unitCtx, run, idx, unit, stop)
	} else {
		e.sendGroup(unitCtx, run, idx, unit)
	}
	e.metrics.unitFinished(run.itemStatus(idx), e.now().Sub(started))
}

func (e *Engine) sendGroup(ctx context.Context, run *Run, idx int, unit Unit) {
	ack, err := e.sender.SendMessage(ctx, gateway.SendRequest{
		Recipients: unit.MSISDNs(),
		Message:    run.plan.Message,
		SenderID:   run.plan.SenderID,
		TemplateID: run.plan.TemplateID,
	})
	if err != nil {
		slog.WarnContext(ctx, "Unit send failed", slog.Any("error", err))
		e.metrics.recipientsSent(len(unit.Recipients), false)
		e.transition(run, idx, func(it *DispatchItem) {
			it.Status = StatusFailed
			it.Error = err.Error()
		})
		return
	}
	slog.DebugContext(ctx, "Unit accepted by gateway", slog.String("request_id", ack.RequestID))
	e.metrics.recipientsSent(len(unit.Recipients), true)
	e.transition(run, idx, func(it *DispatchItem) {
		it.Status = StatusSuccess
		it.SentCount = len(unit.Recipients)
	})
}

func (e *Engine) sendRows(ctx context.Context, run *Run, idx int, unit Unit, stop *StopToken) {
	var failedIDs []string
	var firstErr error
	sent := 0

	for i, r := range unit.Recipients {
		if stop.Stopped() || ctx.Err() != nil {
			run.skipped.Store(true)
			for _, rest := range unit.Recipients[i:] {
				failedIDs = append(failedIDs, rest.Contact.ID)
			}
			if firstErr == nil {
				firstErr = ErrStopped
			}
			break
		}

		rowCtx := logging.ContextWithMSISDN(ctx, r.MSISDN)
		msg := run.plan.Message
		if run.plan.Render != nil {
			msg = run.plan.Render(r.Contact)
		}

		var err error
		if strings.TrimSpace(msg) == "" {
			err = errors.New("rendered message is empty")
		} else {
			_, err = e.sender.SendMessage(rowCtx, gateway.SendRequest{
				Recipients: []string{r.MSISDN},
				Message:    msg,
				SenderID:   run.plan.SenderID,
				TemplateID: run.plan.TemplateID,
			})
		}
		e.metrics.recipientsSent(1, err == nil)

		if err != nil {
			slog.WarnContext(rowCtx, "Row send failed", slog.Any("error", err))
			failedIDs = append(failedIDs, r.Contact.ID)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			sent++
		}
		sentNow := sent
		e.transition(run, idx, func(it *DispatchItem) { it.SentCount = sentNow })
	}

	e.transition(run, idx, func(it *DispatchItem) {
		if len(failedIDs) == 0 {
			it.Status = StatusSuccess
			return
		}
		it.Status = StatusFailed
		it.FailedRecipients = failedIDs
		it.Error = fmt.Sprintf("%d of %d recipients not sent: %v", len(failedIDs), len(unit.Recipients), firstErr)
	})
}

// transition applies a change to one item and publishes the resulting snapshot.
func (e *Engine) transition(run *Run, idx int, change func(*DispatchItem)) {
	run.mu.Lock()
	it := &run.items[idx]
	change(it)
	u := Update{
		RunID:  run.id,
		UnitID: it.ID,
		Index:  idx,
		Status: it.Status,
		Sent:   it.SentCount,
		Total:  it.RecipientCount,
		Error:  it.Error,
		At:     e.now(),
	}
	run.mu.Unlock()

	select {
	case run.updates <- u:
	default:
		// Capacity covers every update of a run; reaching this means a bookkeeping bug.
		slog.Error("Dispatch update dropped", slog.String("unit_id", u.UnitID), slog.String("status", u.Status))
	}
}

func (r *Run) itemStatus(idx int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[idx].Status
}
