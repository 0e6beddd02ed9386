// Package logger provides structured JSON logging with request
// correlation. No command output, tokens, or API keys are ever logged;
// request_id and cluster_id give per-dispatch traceability.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// New builds the process-wide slog.Logger. format is "json" or "text";
// level is one of debug/info/warn/error.
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns logger augmented with the request_id drawn from
// ctx, if present, so every log line within a request correlates.
func WithContext(ctx context.Context, log *slog.Logger) *slog.Logger {
	if id := FromContext(ctx); id != "" {
		log = log.With("request_id", id)
	}
	return log
}

// FromContext returns the request ID stashed in ctx, or "".
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID returns a child context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// LogRequest emits one structured line per completed HTTP request.
// Mirrors the access-log shape middleware writes after every response.
func LogRequest(log *slog.Logger, reqID, clusterID, method, path string, status int, duration time.Duration, errMsg string) {
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	} else if status >= 400 {
		level = slog.LevelWarn
	}
	attrs := []any{
		"request_id", reqID,
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", float64(duration.Microseconds()) / 1000.0,
	}
	if clusterID != "" {
		attrs = append(attrs, "cluster_id", clusterID)
	}
	if errMsg != "" {
		attrs = append(attrs, "error", errMsg)
	}
	log.Log(context.Background(), level, "http_request", attrs...)
}
