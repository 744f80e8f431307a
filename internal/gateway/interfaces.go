package gateway

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCircuitOpen   = errors.New("gateway circuit breaker is open")
	ErrNoRecipients  = errors.New("send request has no recipients")
	ErrNotConnected  = errors.New("gateway session is not bound")
	ErrSubmitTimeout = errors.New("timed out waiting for submit response")
)

// SendRequest is one enqueue call: a recipient list and the text they all receive.
type SendRequest struct {
	Recipients []string `json:"recipients"` // E.164
	Message    string   `json:"message"`
	SenderID   string   `json:"sender_id"`
	TemplateID *string  `json:"template_id,omitempty"`
}

// SendAck is the platform's acknowledgement that a request was queued.
// Delivery itself is tracked by the platform, not here.
type SendAck struct {
	RequestID string `json:"request_id"`
	Accepted  int    `json:"accepted"`
	Status    string `json:"status"`
}

// Sender enqueues messages on the remote platform.
type Sender interface {
	SendMessage(ctx context.Context, req SendRequest) (SendAck, error)
}

// APIError is a non-2xx answer from the platform API.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway API %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the platform rejected the call for a transient reason.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
