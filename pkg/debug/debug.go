// Package debug provides category-based debug logging for credgate.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): controlled via CREDGATE_DEBUG env or config
//   - Levels (HOW MUCH detail): controlled via CREDGATE_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log("storage", "query", "table", "api_keys", "rows", n)
//	if debug.Enabled("cache") { /* expensive formatting */ }
//
// Categories: auth, cache, storage, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
//
// Secrets never go through this package; callers log client ids and
// outcomes only.
package debug

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, storage lookups are logged without their parameters.
const LevelTrace = slog.LevelDebug - 4

// categories holds the set of enabled debug categories.
// Access is read-only after Init(), so no synchronization needed.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv("CREDGATE_DEBUG"))
}

// Init configures the debug system and the default slog logger. Called at
// startup with values from config. Environment overrides config. format
// is "text" (default) or "json".
func Init(configCategories, configLevel, format string) {
	cats := os.Getenv("CREDGATE_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	categories = parseCategories(cats)

	level := os.Getenv("CREDGATE_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}

	slog.SetDefault(slog.New(NewHandler(os.Stderr, format, ParseLevel(level))))
}

// NewHandler builds the slog handler used by Init.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetCategories replaces the enabled categories with the comma-separated
// list s, ignoring CREDGATE_DEBUG, and returns a func that restores the
// previous set. Meant for tests.
func SetCategories(s string) (restore func()) {
	prev := categories
	categories = parseCategories(s)
	return func() { categories = prev }
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when CREDGATE_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the list of enabled categories.
func Categories() []string {
	return slices.Sorted(maps.Keys(categories))
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	if s == "" {
		return m
	}
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
