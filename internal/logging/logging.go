// Package logging takes over the output of the standard logger: every line,
// from log.Printf or the Xf helpers, is level filtered and written as text or
// JSON to stdout and a daily log file.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type Options struct {
	Level  string
	Format string
	Dir    string
	// Name prefixes log file names. Defaults to "dispatch".
	Name string
}

type logger struct {
	mu      sync.Mutex
	level   Level
	json    bool
	dir     string
	name    string
	day     string
	file    *os.File
	stdout  io.Writer
	nowFunc func() time.Time
}

var std = &logger{level: LevelInfo, stdout: os.Stdout, nowFunc: time.Now}

// Setup installs the process-wide logger as the output of the standard log
// package, so plain log.Printf lines are levelled and formatted too. With an
// empty Dir only stdout is used.
func Setup(opts Options) error {
	log.SetFlags(0)
	log.SetOutput(std)

	std.mu.Lock()
	defer std.mu.Unlock()

	std.level = ParseLevel(opts.Level)
	std.json = opts.Format == "json"
	std.name = opts.Name
	if std.name == "" {
		std.name = "dispatch"
	}
	std.closeLocked()
	std.dir = opts.Dir

	if std.dir == "" {
		return nil
	}
	if err := os.MkdirAll(std.dir, 0o755); err != nil {
		std.dir = ""
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return std.rotateLocked()
}

func (l *logger) rotateLocked() error {
	day := l.nowFunc().Format("2006-01-02")
	if l.file != nil && day == l.day {
		return nil
	}
	path := filepath.Join(l.dir, fmt.Sprintf("%s_%s.log", l.name, day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.closeLocked()
	l.file = f
	l.day = day
	return nil
}

func (l *logger) closeLocked() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
		l.day = ""
	}
}

// Close releases the current log file, if any.
func Close() {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.closeLocked()
}

func Enabled(level Level) bool {
	std.mu.Lock()
	defer std.mu.Unlock()
	return level >= std.level
}

type record struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Msg       string `json:"msg"`
}

// Write receives every line of the standard logger. A leading "[LEVEL] "
// tag set by the Xf helpers picks the level; untagged lines are info.
func (l *logger) Write(p []byte) (int, error) {
	level, msg := splitLevel(strings.TrimRight(string(p), "\n"))

	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return len(p), nil
	}
	if l.dir != "" {
		_ = l.rotateLocked()
	}
	now := l.nowFunc()

	var line []byte
	if l.json {
		b, err := json.Marshal(record{
			Time:      now.UTC().Format(time.RFC3339Nano),
			Level:     strings.ToLower(levelNames[level]),
			Component: component(msg),
			Msg:       msg,
		})
		if err != nil {
			return 0, err
		}
		line = append(b, '\n')
	} else {
		line = []byte(fmt.Sprintf("%s [%s] %s\n", now.Format("2006/01/02 15:04:05.000000"), levelNames[level], msg))
	}

	if _, err := l.stdout.Write(line); err != nil {
		return 0, err
	}
	if l.file != nil {
		if _, err := l.file.Write(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func splitLevel(line string) (Level, string) {
	for level, name := range levelNames {
		if tag := "[" + name + "] "; strings.HasPrefix(line, tag) {
			return level, line[len(tag):]
		}
	}
	return LevelInfo, line
}

// component extracts "queue" from "[queue] ...".
func component(msg string) string {
	if !strings.HasPrefix(msg, "[") {
		return ""
	}
	end := strings.IndexByte(msg, ']')
	if end < 2 || strings.ContainsRune(msg[1:end], ' ') {
		return ""
	}
	return msg[1:end]
}

func output(level Level, format string, args ...interface{}) {
	if !Enabled(level) {
		return
	}
	log.Printf("[%s] %s", levelNames[level], fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) { output(LevelDebug, format, args...) }
func Infof(format string, args ...interface{}) { output(LevelInfo, format, args...) }
func Warnf(format string, args ...interface{}) { output(LevelWarn, format, args...) }
func Errorf(format string, args ...interface{}) { output(LevelError, format, args...) }

// RecoverPanic logs a recovered panic. Use as a deferred call in goroutines
// that must not take the process down.
func RecoverPanic(where string) {
	if r := recover(); r != nil {
		output(LevelError, "%s: recovered from panic: %v", where, r)
	}
}
