// Package logger configures the process-wide slog logger and carries
// request, session and dataset identifiers through contexts so every log
// line of an annotation request can be correlated.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	sessionIDKey
	datasetKey
)

// Setup installs the default logger writing to stdout.
func Setup(level string, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination. Format "json" selects
// the JSON handler, anything else the text handler.
func SetupWriter(w io.Writer, level string, format string) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func WithDataset(ctx context.Context, dataset string) context.Context {
	return context.WithValue(ctx, datasetKey, dataset)
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext returns the default logger annotated with whatever
// identifiers ctx carries.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	var attrs []any
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		attrs = append(attrs, "session_id", id)
	}
	if ds, ok := ctx.Value(datasetKey).(string); ok && ds != "" {
		attrs = append(attrs, "dataset", ds)
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

// ParseLevel maps a configured level name to a slog level; unknown names
// mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
