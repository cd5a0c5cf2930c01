package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level orders log severities. Messages below the configured level are
// dropped before formatting.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

const timeLayout = "2006-01-02 15:04:05"

// Logger writes leveled lines to the download log file, optionally mirroring
// them to stdout for container and terminal runs.
type Logger struct {
	out           *log.Logger
	level         Level
	includeStdout bool
}

// New appends to the log file at path, creating it on first run.
func New(path string, level Level, includeStdout bool) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		out:           log.New(f, "", 0),
		level:         level,
		includeStdout: includeStdout,
	}, nil
}

// NewWriter builds a logger over an arbitrary writer. Used by tests and by
// admin commands that should not touch the log file.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{out: log.New(w, "", 0), level: level}
}

func (l *Logger) log(lvl Level, tag string, format string, v ...interface{}) {
	if lvl < l.level {
		return
	}

	line := fmt.Sprintf("%s [%s] %s", time.Now().Format(timeLayout), tag, fmt.Sprintf(format, v...))
	l.out.Println(line)

	// Debug never reaches the terminal mirror; per-line download chatter
	// belongs in the file only.
	if l.includeStdout && lvl >= LevelInfo {
		fmt.Println(line)
	}
}

// ParseLevel maps a config string to a Level, defaulting to info on anything
// it does not recognize.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.log(LevelFatal, "FATAL", f, v...); os.Exit(1) }

// Write adapts the logger to io.Writer so the HTTP request logger and other
// libraries can hand us their lines. Trailing newlines are stripped before
// the line goes through the normal path.
func (l *Logger) Write(p []byte) (n int, err error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
