// Package logging builds the styled charmbracelet loggers used across
// capflow. Library packages accept a *log.Logger in their Config; a nil
// logger falls back to a prefixed child of the process default.
//
// Levels are colour coded: DEBUG (purple), INFO (blue), WARN (yellow),
// ERROR (red). LevelWriter adapts the logger to io.Writer for libraries
// such as gin that only know how to write lines.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(os.Stderr, "INFO")
)

// Styles returns the level colour scheme shared by every capflow logger.
func Styles() *log.Styles {
	styles := log.DefaultStyles()

	styles.Levels[log.DebugLevel] = lipgloss.NewStyle().
		SetString("DEBUG").
		Foreground(lipgloss.Color("#7F6DFF"))

	styles.Levels[log.InfoLevel] = lipgloss.NewStyle().
		SetString("INFO").
		Foreground(lipgloss.Color("#42E7FF"))

	styles.Levels[log.WarnLevel] = lipgloss.NewStyle().
		SetString("WARN").
		Foreground(lipgloss.Color("#FFE763"))

	styles.Levels[log.ErrorLevel] = lipgloss.NewStyle().
		SetString("ERROR").
		Foreground(lipgloss.Color("#FF4473"))

	return styles
}

// New creates a timestamped, styled logger writing to w at the given level.
func New(w io.Writer, level string) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           ParseLevel(level),
	})
	l.SetStyles(Styles())
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel + 1})
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a level.
// Unknown strings yield INFO.
func ParseLevel(level string) log.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Default returns the process-wide logger.
func Default() *log.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger. A nil logger is ignored.
func SetDefault(l *log.Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Component returns l with prefix attached, or a prefixed child of the
// default logger when l is nil.
func Component(l *log.Logger, prefix string) *log.Logger {
	if l == nil {
		l = Default()
	}
	if prefix == "" {
		return l
	}
	return l.WithPrefix(prefix)
}

// LevelWriter forwards each written line to a logger at a fixed level.
type LevelWriter struct {
	logger *log.Logger
	level  log.Level
	prefix string
}

// NewLevelWriter creates a writer that logs each line at level with an
// optional prefix. A nil logger uses the default.
func NewLevelWriter(l *log.Logger, level, prefix string) *LevelWriter {
	if l == nil {
		l = Default()
	}
	return &LevelWriter{logger: l, level: ParseLevel(level), prefix: prefix}
}

// Write implements io.Writer, logging every non-blank line separately.
func (w *LevelWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if w.prefix != "" {
			line = w.prefix + ": " + line
		}
		w.logger.Log(w.level, line)
	}
	return len(p), nil
}
