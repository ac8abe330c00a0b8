package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
)

// SetLevel adjusts the global log level. Accepts "debug", "info", "warn",
// "error"; anything else leaves the level unchanged.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(level) {
	case "debug":
		log = log.Level(zerolog.DebugLevel)
	case "info":
		log = log.Level(zerolog.InfoLevel)
	case "warn":
		log = log.Level(zerolog.WarnLevel)
	case "error":
		log = log.Level(zerolog.ErrorLevel)
	}
}

// SetJSON switches output from the console writer to plain JSON lines.
func SetJSON() {
	mu.Lock()
	defer mu.Unlock()
	log = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(log.GetLevel())
}

func event(e *zerolog.Event, component, msg string, fields map[string]interface{}) {
	e = e.Str("component", component)
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg(msg)
}

// DebugCF logs a debug message for a component with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Debug(), component, msg, fields)
}

// InfoCF logs an info message for a component with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Info(), component, msg, fields)
}

// WarnCF logs a warning for a component with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Warn(), component, msg, fields)
}

// ErrorCF logs an error for a component with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Error(), component, msg, fields)
}
