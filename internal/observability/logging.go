// Package observability owns logging, metrics and tracing construction for
// the hearth process.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the process logger.
type LogConfig struct {
	// Level: "debug", "info", "warn" or "error". Defaults to "info".
	Level string

	// Format: "text" or "json". Defaults to "text".
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer

	// Sink, when non-nil, receives a copy of every Warn+ record.
	Sink LogSink
}

// LogSink mirrors selected records into durable storage.
type LogSink interface {
	InsertLog(ctx context.Context, level, message string) error
}

// defaultRedactPatterns mask secret-bearing values before emission.
var defaultRedactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.]{16,}`),
}

// NewLogger builds the process *slog.Logger: level filter, redaction of
// secret-looking values, optional mirroring of Warn+ records into the sink.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	if cfg.Sink != nil {
		handler = &sinkHandler{next: handler, sink: cfg.Sink}
	}
	return slog.New(handler)
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	s := a.Value.String()
	for _, re := range defaultRedactPatterns {
		if re.MatchString(s) {
			s = re.ReplaceAllString(s, "[REDACTED]")
		}
	}
	if s != a.Value.String() {
		a.Value = slog.StringValue(s)
	}
	return a
}

// sinkHandler tees Warn+ records into a LogSink after the wrapped handler
// has seen them. Sink failures are dropped; logging must never loop.
type sinkHandler struct {
	next slog.Handler
	sink LogSink
}

func (h *sinkHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *sinkHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)
	if r.Level >= slog.LevelWarn {
		_ = h.sink.InsertLog(context.WithoutCancel(ctx), r.Level.String(), r.Message)
	}
	return err
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sinkHandler{next: h.next.WithAttrs(attrs), sink: h.sink}
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	return &sinkHandler{next: h.next.WithGroup(name), sink: h.sink}
}
