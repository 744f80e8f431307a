package notification

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisbulk/internal/dispatch"
)

func TestRunFinished(t *testing.T) {
	s := dispatch.Summary{
		RunID: "run-7", Mode: "group", SenderID: "ACME",
		Units: 16, Succeeded: 12, Failed: 4, Recipients: 1600, SentRecipients: 1200,
		QuotedCost: decimal.NewFromInt(1280),
	}
	subject, body := RunFinished(s)
	assert.Equal(t, "Bulk SMS run run-7 completed", subject)
	assert.Contains(t, body, "12 of 16 batches sent, 4 failed")
	assert.Contains(t, body, "Quoted cost 1280.00")
	assert.Contains(t, body, "retried")

	s.Aborted, s.Failed = true, 0
	subject, body = RunFinished(s)
	assert.Contains(t, subject, "aborted")
	assert.NotContains(t, body, "retried")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, NotifyRunFinished(context.Background(), n, "ops@example.com", dispatch.Summary{RunID: "r1"}))
	assert.Contains(t, buf.String(), `"recipient":"ops@example.com"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NotifyRunFinished(ctx, n, "x", dispatch.Summary{}), context.Canceled)
}
