// Package observability provides the gateway's structured logging, request
// ID propagation, and tracing setup.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with request-ID correlation and an optional
// Redactor that scrubs secret-shaped substrings (bearer tokens, forwarded
// API keys, PII) out of proxied-request logs before they're written.
type Logger struct {
	logger   *slog.Logger
	redactor *Redactor
}

// LoggerConfig configures a Logger's output and verbosity.
type LoggerConfig struct {
	Level      slog.Level
	Output     io.Writer // defaults to os.Stdout
	AddSource  bool
	JSONFormat bool // false selects slog's text handler
}

// NewLogger builds a Logger. redactor may be nil to disable redaction
// entirely (useful in tests asserting on raw output).
func NewLogger(cfg LoggerConfig, redactor *Redactor) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return &Logger{logger: slog.New(handler), redactor: redactor}
}

// WithRequestID attaches the request ID carried on ctx (see requestid.go) as
// a "request_id" field on every subsequent log line. Returns l unchanged if
// ctx carries no request ID.
func (l *Logger) WithRequestID(ctx context.Context) *Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return l
	}
	return l.With("request_id", id)
}

// With returns a derived Logger carrying args as permanent fields on every
// subsequent log line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redactor: l.redactor}
}

// WithFields is an alias of With kept for call sites that read more
// naturally attaching a named group of fields (e.g. service/method pairs).
func (l *Logger) WithFields(args ...any) *Logger {
	return l.With(args...)
}

func (l *Logger) redact(msg string, args []any) (string, []any) {
	if l.redactor == nil {
		return msg, args
	}
	return l.redactor.Redact(msg), l.redactArgs(args)
}

func (l *Logger) redactArgs(args []any) []any {
	if l.redactor == nil {
		return args
	}
	out := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			out[i] = l.redactor.Redact(v)
		case error:
			out[i] = l.redactor.Redact(v.Error())
		default:
			out[i] = arg
		}
	}
	return out
}

// RedactedInfo logs at INFO after scrubbing msg and any string/error args
// through the configured Redactor.
func (l *Logger) RedactedInfo(msg string, args ...any) {
	msg, args = l.redact(msg, args)
	l.logger.Info(msg, args...)
}

// RedactedWarn logs at WARN after redaction.
func (l *Logger) RedactedWarn(msg string, args ...any) {
	msg, args = l.redact(msg, args)
	l.logger.Warn(msg, args...)
}

// RedactedError logs at ERROR after redaction.
func (l *Logger) RedactedError(msg string, args ...any) {
	msg, args = l.redact(msg, args)
	l.logger.Error(msg, args...)
}

// RedactedDebug logs at DEBUG after redaction.
func (l *Logger) RedactedDebug(msg string, args ...any) {
	msg, args = l.redact(msg, args)
	l.logger.Debug(msg, args...)
}

// Info logs at INFO level without redaction — use for messages that never
// carry forwarded request data (startup/shutdown, config summaries).
func (l *Logger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs at WARN level without redaction.
func (l *Logger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs at ERROR level without redaction.
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Debug logs at DEBUG level without redaction.
func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Headers returns headers safe to pass as a log attribute: scrubbed through
// the configured Redactor, or verbatim when no redactor is set.
func (l *Logger) Headers(headers map[string][]string) map[string][]string {
	if l.redactor == nil {
		return headers
	}
	return l.redactor.RedactHeaders(headers)
}

// Slog exposes the underlying *slog.Logger for callers (e.g. third-party
// middleware) that want the stdlib type directly.
func (l *Logger) Slog() *slog.Logger { return l.logger }
