package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to l.
// If l is nil, it returns nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogHandler{log: l}
}

// StdLogger returns a *log.Logger that writes into l at level. Used for
// library hooks such as http.Server.ErrorLog.
func StdLogger(l *Logger, level slog.Level) *log.Logger {
	return slog.NewLogLogger(NewSlogHandler(l), level)
}

type slogHandler struct {
	log    *Logger
	groups []string
	attrs  []string
}

func toLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.log.Enabled(toLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	parts := make([]string, 0, 1+len(h.attrs)+record.NumAttrs())
	if record.Message != "" {
		parts = append(parts, record.Message)
	}
	parts = append(parts, h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		parts = appendAttr(parts, h.groups, a)
		return true
	})
	h.log.log(toLevel(record.Level), "%s", strings.Join(parts, " "))
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &slogHandler{log: h.log, groups: h.groups, attrs: append([]string(nil), h.attrs...)}
	for _, a := range attrs {
		next.attrs = appendAttr(next.attrs, h.groups, a)
	}
	return next
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	return &slogHandler{log: h.log, groups: groups, attrs: h.attrs}
}

func appendAttr(parts []string, groups []string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return parts
	}
	if a.Value.Kind() == slog.KindGroup {
		nested := groups
		if a.Key != "" {
			nested = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			parts = appendAttr(parts, nested, ga)
		}
		return parts
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return append(parts, fmt.Sprintf("%s=%v", key, a.Value))
}
