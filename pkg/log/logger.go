package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// New constructs a JSON slog.Logger writing to stdout at the named level.
// Unknown level names fall back to info
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, ParseLevel(level))
}

// NewWithWriter constructs a JSON slog.Logger writing to w
func NewWithWriter(w io.Writer, lvl slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}

// ParseLevel maps a level name to its slog.Level
func ParseLevel(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lvl
	}
	return slog.LevelInfo
}
