package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thrillee/aegisbulk/internal/dispatch"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier is a simple implementation that just logs notifications.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the notification details.
func (n *LogNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "Notification",
		slog.String("recipient", recipient),
		slog.String("subject", subject),
		slog.String("body", body))
	return nil
}

// Compile-time check to ensure LogNotifier implements Notifier
var _ Notifier = (*LogNotifier)(nil)

// RunFinished renders the operator notice for a finished dispatch run.
func RunFinished(s dispatch.Summary) (subject, body string) {
	subject = fmt.Sprintf("Bulk SMS run %s %s", s.RunID, s.Status())
	body = fmt.Sprintf("Sender %s, %s mode: %d of %d batches sent, %d failed, %d not started. %d of %d recipients sent. Quoted cost %s.",
		s.SenderID, s.Mode, s.Succeeded, s.Units, s.Failed, s.NotStarted, s.SentRecipients, s.Recipients, s.QuotedCost.StringFixed(2))
	if s.Failed > 0 {
		body += " Failed batches can be retried from the session."
	}
	return subject, body
}

// NotifyRunFinished sends the run notice through n.
func NotifyRunFinished(ctx context.Context, n Notifier, recipient string, s dispatch.Summary) error {
	subject, body := RunFinished(s)
	if err := n.Send(ctx, recipient, subject, body); err != nil {
		return fmt.Errorf("failed to notify run %s: %w", s.RunID, err)
	}
	return nil
}
