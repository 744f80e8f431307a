package logging

import (
	"context"
	"io"
	"log/slog"
)

type contextKey string

const (
	SessionIDKey contextKey = "session_id"
	RunIDKey     contextKey = "run_id"
	UnitIDKey    contextKey = "unit_id"
	BatchIDKey   contextKey = "batch_id"
	SenderIDKey  contextKey = "sender_id"
	MSISDNKey    contextKey = "msisdn"
	WorkerIDKey  contextKey = "worker_id"
	HandlerKey   contextKey = "handler"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range []contextKey{SessionIDKey, RunIDKey, UnitIDKey, BatchIDKey, SenderIDKey, MSISDNKey, WorkerIDKey, HandlerKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context extraction on derived handlers.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context extraction on derived handlers.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Setup installs a JSON context-aware logger as the slog default.
func Setup(w io.Writer, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: logLevel, AddSource: logLevel <= slog.LevelDebug}
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(w, opts)))
	slog.SetDefault(logger)
	return logger
}

// Helper functions to add values to context
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func ContextWithUnitID(ctx context.Context, unitID string) context.Context {
	return context.WithValue(ctx, UnitIDKey, unitID)
}

func ContextWithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

func ContextWithSenderID(ctx context.Context, senderID string) context.Context {
	return context.WithValue(ctx, SenderIDKey, senderID)
}

func ContextWithMSISDN(ctx context.Context, msisdn string) context.Context {
	return context.WithValue(ctx, MSISDNKey, msisdn)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

func ContextWithHandler(ctx context.Context, handler string) context.Context {
	return context.WithValue(ctx, HandlerKey, handler)
}
