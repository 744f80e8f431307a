package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/gateway"
	"github.com/thrillee/aegisbulk/internal/wallet"
	"github.com/thrillee/aegisbulk/pkg/errormapper"
)

type fakeSender struct {
	mu       sync.Mutex
	calls    []gateway.SendRequest
	fail     map[string]bool // msisdn -> fail
	gate     chan struct{}   // when set, each call blocks until a value arrives
	entered  chan struct{}
	inFlight int
	peak     int
	delay    time.Duration
}

func (f *fakeSender) SendMessage(ctx context.Context, req gateway.SendRequest) (gateway.SendAck, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	for _, r := range req.Recipients {
		if f.fail[r] {
			return gateway.SendAck{}, errors.New("remote rejected " + r)
		}
	}
	return gateway.SendAck{RequestID: "ok", Accepted: len(req.Recipients)}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func makeUnit(id string, msisdns ...string) Unit {
	u := Unit{ID: id, Ref: "batch-" + id, Label: id}
	for _, m := range msisdns {
		c := contact.New("name-"+m, m, "")
		u.Recipients = append(u.Recipients, Recipient{Contact: c, MSISDN: m})
	}
	return u
}

func okQuote() wallet.CostQuote {
	return wallet.Quote(1, 1, decimal.NewFromInt(1), decimal.NewFromInt(1_000_000))
}

func groupPlan(units []Unit) Plan {
	return Plan{Units: units, Mode: ModeGroup, Message: "hello", SenderID: "AEGIS", Quote: okQuote()}
}

func drain(run *Run) []Update {
	var out []Update
	for u := range run.Updates() {
		out = append(out, u)
	}
	return out
}

func TestEngine_AggregatesSuccessAndFailure(t *testing.T) {
	const n, k = 12, 4
	sender := &fakeSender{fail: map[string]bool{}}
	var units []Unit
	for i := 0; i < n; i++ {
		m := fmt.Sprintf("+2567010000%02d", i)
		if i%3 == 0 {
			sender.fail[m] = true
		}
		units = append(units, makeUnit(fmt.Sprintf("u%d", i), m))
	}
	require.Len(t, sender.fail, k)

	run, err := NewEngine(sender, Options{Concurrency: 3}).Start(context.Background(), groupPlan(units), nil)
	require.NoError(t, err)

	updates := drain(run)
	s := run.Wait()

	assert.Equal(t, n-k, s.Succeeded)
	assert.Equal(t, k, s.Failed)
	assert.Zero(t, s.NotStarted)
	assert.False(t, s.Aborted)
	assert.Equal(t, n, sender.callCount())
	assert.Len(t, updates, 2*n)

	final := map[string]string{}
	for _, u := range updates {
		final[u.UnitID] = u.Status
	}
	for _, item := range s.Items {
		assert.Equal(t, item.Status, final[item.ID], "last update for %s", item.ID)
		if item.Status == StatusFailed {
			assert.NotEmpty(t, item.Error)
			assert.Zero(t, item.SentCount)
		} else {
			assert.Equal(t, 1, item.SentCount)
		}
	}
}

func TestEngine_InvalidSenderMakesNoCalls(t *testing.T) {
	sender := &fakeSender{}
	engine := NewEngine(sender, Options{})
	units := []Unit{makeUnit("u1", "+256701234567")}

	for _, id := range []string{"", "AB", "TOOLONGSENDER", "bad-id", "spa ce"} {
		plan := groupPlan(units)
		plan.SenderID = id
		run, err := engine.Start(context.Background(), plan, nil)
		assert.Nil(t, run)

		var pe *PreconditionError
		require.True(t, errors.As(err, &pe), "sender %q", id)
		assert.Equal(t, errormapper.ErrorCodeInvalidSenderID, pe.Code)
	}
	assert.Zero(t, sender.callCount())
}

func TestValidate_Order(t *testing.T) {
	empty := Plan{SenderID: "x", Quote: wallet.CostQuote{Insufficient: true}}
	var pe *PreconditionError
	require.True(t, errors.As(Validate(empty), &pe))
	assert.Equal(t, errormapper.ErrorCodeInvalidSenderID, pe.Code)

	cases := []struct {
		name string
		plan Plan
		code string
	}{
		{"empty message", Plan{SenderID: "AEGIS", Message: "  "}, errormapper.ErrorCodeEmptyMessage},
		{"no recipients", Plan{SenderID: "AEGIS", Message: "hi", Units: []Unit{{ID: "u"}}}, errormapper.ErrorCodeNoRecipients},
		{"insufficient", Plan{SenderID: "AEGIS", Message: "hi", Units: []Unit{makeUnit("u", "+256701234567")}, Quote: wallet.Quote(40, 1, decimal.NewFromInt(32), decimal.NewFromInt(1000))}, errormapper.ErrorCodeInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var pe *PreconditionError
			require.True(t, errors.As(Validate(tc.plan), &pe))
			assert.Equal(t, tc.code, pe.Code)
		})
	}

	assert.NoError(t, Validate(groupPlan([]Unit{makeUnit("u", "+256701234567")})))
}

func TestEngine_RespectsConcurrencyLimit(t *testing.T) {
	sender := &fakeSender{delay: 10 * time.Millisecond}
	var units []Unit
	for i := 0; i < 10; i++ {
		units = append(units, makeUnit(fmt.Sprintf("u%d", i), fmt.Sprintf("+2567010000%02d", i)))
	}

	run, err := NewEngine(sender, Options{Concurrency: 2}).Start(context.Background(), groupPlan(units), nil)
	require.NoError(t, err)
	drain(run)
	s := run.Wait()

	assert.Equal(t, 10, s.Succeeded)
	assert.LessOrEqual(t, sender.peak, 2)
}

func TestEngine_StopLeavesRemainingUnitsPending(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	var units []Unit
	for i := 0; i < 5; i++ {
		units = append(units, makeUnit(fmt.Sprintf("u%d", i), fmt.Sprintf("+2567010000%02d", i)))
	}
	stop := NewStopToken()

	run, err := NewEngine(sender, Options{Concurrency: 1}).Start(context.Background(), groupPlan(units), stop)
	require.NoError(t, err)

	<-sender.entered
	stop.Stop()
	sender.gate <- struct{}{}

	s := run.Wait()
	drain(run)

	assert.True(t, s.Aborted)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 4, s.NotStarted)
	assert.Equal(t, 1, sender.callCount())
	for _, item := range s.Items[1:] {
		assert.Equal(t, StatusPending, item.Status)
	}
}

func TestEngine_StopAfterLastSendIsNotAbort(t *testing.T) {
	sender := &fakeSender{}
	stop := NewStopToken()
	run, err := NewEngine(sender, Options{}).Start(context.Background(), groupPlan([]Unit{makeUnit("u", "+256701234567")}), stop)
	require.NoError(t, err)
	s := run.Wait()
	stop.Stop()
	drain(run)

	assert.False(t, s.Aborted)
	assert.Equal(t, "completed", s.Status())
}

func TestEngine_PersonalizedRetryOnlyFailedRows(t *testing.T) {
	bad := "+256701000002"
	sender := &fakeSender{fail: map[string]bool{bad: true}}
	units := []Unit{
		makeUnit("u1", "+256701000001", bad, "+256701000003"),
		makeUnit("u2", "+256701000004"),
	}
	plan := groupPlan(units)
	plan.Mode = ModePersonalized
	plan.Message = "Hi {{name}}"
	plan.Render = func(c contact.Contact) string { return "Hi " + c.DisplayName }

	engine := NewEngine(sender, Options{Concurrency: 2})
	run, err := engine.Start(context.Background(), plan, nil)
	require.NoError(t, err)
	updates := drain(run)
	s := run.Wait()

	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 3, s.SentRecipients)
	assert.Len(t, updates, updateCapacity(plan))
	assert.Equal(t, 4, sender.callCount())
	for _, call := range sender.calls {
		require.Len(t, call.Recipients, 1)
		assert.Equal(t, "Hi name-"+call.Recipients[0], call.Message)
	}

	var failed DispatchItem
	for _, it := range s.Items {
		if it.ID == "u1" {
			failed = it
		}
	}
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, 2, failed.SentCount)
	require.Len(t, failed.FailedRecipients, 1)

	retry := FailedUnits(s, units)
	require.Len(t, retry, 1)
	assert.Equal(t, "u1", retry[0].ID)
	assert.Equal(t, []string{bad}, retry[0].MSISDNs())

	delete(sender.fail, bad)
	plan.Units = retry
	run, err = engine.Start(context.Background(), plan, nil)
	require.NoError(t, err)
	drain(run)
	s = run.Wait()
	assert.Equal(t, 1, s.Succeeded)
	assert.Zero(t, s.Failed)
	assert.Equal(t, 5, sender.callCount())
}

func TestEngine_PersonalizedStopBetweenRows(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	plan := groupPlan([]Unit{makeUnit("u1", "+256701000001", "+256701000002", "+256701000003")})
	plan.Mode = ModePersonalized
	stop := NewStopToken()

	run, err := NewEngine(sender, Options{Concurrency: 1}).Start(context.Background(), plan, stop)
	require.NoError(t, err)

	<-sender.entered
	stop.Stop()
	sender.gate <- struct{}{}

	s := run.Wait()
	drain(run)

	require.Len(t, s.Items, 1)
	item := s.Items[0]
	assert.True(t, s.Aborted)
	assert.Equal(t, StatusFailed, item.Status)
	assert.Equal(t, 1, item.SentCount)
	assert.Len(t, item.FailedRecipients, 2)
	assert.Contains(t, item.Error, ErrStopped.Error())
	assert.Equal(t, 1, sender.callCount())
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sender := &fakeSender{fail: map[string]bool{"+256701000002": true}}
	engine := NewEngine(sender, Options{Metrics: metrics})

	run, err := engine.Start(context.Background(), groupPlan([]Unit{
		makeUnit("u1", "+256701000001"),
		makeUnit("u2", "+256701000002"),
	}), nil)
	require.NoError(t, err)
	drain(run)
	run.Wait()

	plan := groupPlan(nil)
	plan.SenderID = "!"
	_, err = engine.Start(context.Background(), plan, nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.units.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.units.WithLabelValues(StatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.recipients.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(errormapper.ErrorCodeInvalidSenderID)))
}
