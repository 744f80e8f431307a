package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSender struct {
	errs  []error
	calls int
}

func (s *scriptedSender) SendMessage(context.Context, SendRequest) (SendAck, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return SendAck{}, s.errs[i]
	}
	return SendAck{Accepted: 1}, nil
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute, VolumeThreshold: 2})
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.AllowRequest())

	now = now.Add(time.Minute)
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(time.Minute)
	require.True(t, cb.AllowRequest())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestGuardedSender_OpensOnOutages(t *testing.T) {
	outage := &APIError{StatusCode: 503}
	inner := &scriptedSender{errs: []error{outage, outage}}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, VolumeThreshold: 1, Timeout: time.Hour})
	g := NewGuardedSender(inner, NewLimiter(0, 0), cb)
	req := SendRequest{Recipients: []string{"+256701234567"}}

	for i := 0; i < 2; i++ {
		_, err := g.SendMessage(context.Background(), req)
		assert.ErrorIs(t, err, outage)
	}
	_, err := g.SendMessage(context.Background(), req)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls)
}

func TestGuardedSender_RejectionsDoNotTrip(t *testing.T) {
	reject := &APIError{StatusCode: 400}
	inner := &scriptedSender{errs: []error{reject, reject, reject}}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, VolumeThreshold: 1})
	g := NewGuardedSender(inner, nil, cb)

	for i := 0; i < 3; i++ {
		_, err := g.SendMessage(context.Background(), SendRequest{Recipients: []string{"x"}})
		assert.True(t, errors.Is(err, reject))
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestGuardedSender_LimiterHonoursContext(t *testing.T) {
	g := NewGuardedSender(&scriptedSender{}, NewLimiter(0.001, 1), nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := g.SendMessage(ctx, SendRequest{Recipients: []string{"x"}})
	require.NoError(t, err)

	cancel()
	_, err = g.SendMessage(ctx, SendRequest{Recipients: []string{"x"}})
	assert.Error(t, err)
}
