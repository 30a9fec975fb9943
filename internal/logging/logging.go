// Package logging builds the slog logger used by the server and its audit sink.
//
// Besides the standard slog levels it defines NOTICE, between INFO and WARN,
// and CRITICAL, above ERROR. Both print under their own names in text and
// JSON output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelNotice   = slog.Level(2)
	LevelCritical = slog.Level(12)
)

// Options configures New.
type Options struct {
	Level  string // debug, info, notice, warn, error, critical
	Format string // text or json
	Output string // stderr, stdout or file
	File   string // path when Output is "file"
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info", "normal":
		return slog.LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "critical", "crit":
		return LevelCritical, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// LevelName returns the display name of l.
func LevelName(l slog.Level) string {
	switch l {
	case LevelNotice:
		return "NOTICE"
	case LevelCritical:
		return "CRITICAL"
	}
	return l.String()
}

// New returns a logger for opts. The returned closer releases the log file,
// if one was opened, and is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(opts.Output) {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	case "file":
		if opts.File == "" {
			return nil, nil, fmt.Errorf("log output is file but no file is set")
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	default:
		return nil, nil, fmt.Errorf("unknown log output %q", opts.Output)
	}

	logger, err := NewWithWriter(w, level, opts.Format)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}

// NewWithWriter returns a logger writing to w in the given format.
func NewWithWriter(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	hopts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}
	switch strings.ToLower(format) {
	case "", "text", "console":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(l))
		}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
