package logger

import (
	"context"
	"io"
	"log/slog"
)

// ComponentKey 标识组件的属性名
const ComponentKey = "component"

// componentHandler 按 component 属性过滤级别的 slog.Handler
type componentHandler struct {
	cfg       *Config
	component string
	level     slog.Level
	inner     slog.Handler
}

// NewHandler 创建按组件过滤级别的 Handler
func NewHandler(w io.Writer, cfg *Config) slog.Handler {
	if cfg == nil {
		cfg = ParseConfig("", "", "")
	}
	opts := &slog.HandlerOptions{
		Level:     cfg.minLevel(),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelToString(lvl))
				}
			}
			return a
		},
	}

	var inner slog.Handler
	if cfg.Format == FormatJSON {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}

	return &componentHandler{
		cfg:   cfg,
		level: cfg.DefaultLevel,
		inner: inner,
	}
}

// Enabled 实现 slog.Handler
func (h *componentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle 实现 slog.Handler
func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

// WithAttrs 实现 slog.Handler，遇到 component 属性时切换到该组件的级别
func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &componentHandler{
		cfg:       h.cfg,
		component: h.component,
		level:     h.level,
		inner:     h.inner.WithAttrs(attrs),
	}
	for _, a := range attrs {
		if a.Key == ComponentKey {
			next.component = a.Value.String()
			next.level = h.cfg.LevelFor(next.component)
		}
	}
	return next
}

// WithGroup 实现 slog.Handler
func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{
		cfg:       h.cfg,
		component: h.component,
		level:     h.level,
		inner:     h.inner.WithGroup(name),
	}
}

func levelToString(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return level.String()
	}
}
