package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Leveled logger shared by the API server, the watch CLI and the core
// packages. The printf-style API hides zerolog so call sites stay terse;
// output is one JSON object per line with "time", "level" and "message".

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stdout)
	level  = zerolog.InfoLevel
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Unknown values fall back to info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "fatal":
		level = zerolog.FatalLevel
	default:
		level = zerolog.InfoLevel
	}
}

// SetOutput redirects log output, mostly for tests and the CLI. A nil
// writer restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

func shouldLog(l zerolog.Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func logf(l zerolog.Level, format string, v ...interface{}) {
	if !shouldLog(l) {
		return
	}
	mu.RLock()
	lg := logger
	mu.RUnlock()
	lg.WithLevel(l).Msgf(format, v...)
}

func Debugf(format string, v ...interface{}) { logf(zerolog.DebugLevel, format, v...) }
func Infof(format string, v ...interface{})  { logf(zerolog.InfoLevel, format, v...) }
func Warnf(format string, v ...interface{})  { logf(zerolog.WarnLevel, format, v...) }
func Errorf(format string, v ...interface{}) { logf(zerolog.ErrorLevel, format, v...) }

// Fatalf logs regardless of level and exits the process.
func Fatalf(format string, v ...interface{}) {
	mu.RLock()
	lg := logger
	mu.RUnlock()
	lg.WithLevel(zerolog.FatalLevel).Msgf(format, v...)
	os.Exit(1)
}

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	logf(zerolog.InfoLevel, "%s", strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func Debug(v string) { Debugf("%s", v) }
func Info(v string)  { Infof("%s", v) }
func Warn(v string)  { Warnf("%s", v) }
func Error(v string) { Errorf("%s", v) }

// With returns a zerolog child logger carrying the given fields, for call
// sites that want structured context (request ids, entity kinds).
func With(fields map[string]interface{}) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With().Fields(fields).Logger().Level(level)
}

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case zerolog.DebugLevel:
		return "debug"
	case zerolog.WarnLevel:
		return "warn"
	case zerolog.ErrorLevel:
		return "error"
	case zerolog.FatalLevel:
		return "fatal"
	}
	return "info"
}
