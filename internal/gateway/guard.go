package gateway

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// GuardedSender throttles sends and stops calling a platform that keeps failing.
type GuardedSender struct {
	inner   Sender
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

var _ Sender = (*GuardedSender)(nil)

// NewGuardedSender wraps inner. A nil limiter or breaker disables that guard.
func NewGuardedSender(inner Sender, limiter *rate.Limiter, breaker *CircuitBreaker) *GuardedSender {
	return &GuardedSender{inner: inner, limiter: limiter, breaker: breaker}
}

// NewLimiter builds a token bucket of perSecond sends with the given burst.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

func (g *GuardedSender) SendMessage(ctx context.Context, req SendRequest) (SendAck, error) {
	if g.breaker != nil && !g.breaker.AllowRequest() {
		return SendAck{}, ErrCircuitOpen
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return SendAck{}, fmt.Errorf("send rate limiter: %w", err)
		}
	}

	ack, err := g.inner.SendMessage(ctx, req)
	if g.breaker != nil {
		if err != nil && countsAsOutage(err) {
			g.breaker.RecordFailure()
		} else {
			g.breaker.RecordSuccess()
		}
	}
	return ack, err
}

// Breaker exposes the breaker for status reporting. May be nil.
func (g *GuardedSender) Breaker() *CircuitBreaker { return g.breaker }

// countsAsOutage separates platform trouble from requests the platform rejected on their merits.
func countsAsOutage(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNoRecipients)
}
