package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Structured field keys shared across packages.
const (
	KeyComponent     = "component"
	KeyCorrelationID = "correlationId"
	KeyKind          = "kind"
	KeySession       = "session"
	KeyError         = "error"
)

type contextKey struct{}

// rootHandler forwards to whichever handler Init installed last, so package
// level loggers created at init time follow later configuration.
type rootHandler struct {
	current *atomic.Pointer[slog.Handler]
	attrs   []slog.Attr
	group   string
}

func (h *rootHandler) resolve() slog.Handler {
	handler := *h.current.Load()
	if h.group != "" {
		handler = handler.WithGroup(h.group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *rootHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *rootHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *rootHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &rootHandler{current: h.current, attrs: merged, group: h.group}
}

func (h *rootHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &rootHandler{current: h.current, attrs: h.attrs, group: group}
}

var (
	current       = newCurrent(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defaultLogger = slog.New(&rootHandler{current: current})
)

func newCurrent(h slog.Handler) *atomic.Pointer[slog.Handler] {
	p := &atomic.Pointer[slog.Handler]{}
	p.Store(&h)
	return p
}

func init() {
	slog.SetDefault(defaultLogger)
}

// Init installs the process-wide handler. format is "json" or "text"; level is
// one of debug, info, warn, error. A nil output logs to stderr.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	current.Store(&handler)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithRequest attaches correlation fields to logger.
func WithRequest(logger *slog.Logger, correlationID string, kind string) *slog.Logger {
	return logger.With(
		slog.String(KeyCorrelationID, correlationID),
		slog.String(KeyKind, kind),
	)
}

// NewContext returns a context carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return defaultLogger
	}
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
