// Package logger is a small leveled logger with component tags, optional
// JSON-lines file output, and secret redaction for anything registered via
// RegisterSecret.
package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// ParseLevel maps a config string to a level, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

var (
	mu           sync.RWMutex
	currentLevel = INFO
	sink         *os.File
	secrets      []string
)

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// RegisterSecret marks a value (an API key, a token) for replacement in all
// subsequent log output. Empty values are ignored.
func RegisterSecret(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	secrets = append(secrets, value)
}

// EnableFileLogging appends JSON-lines entries to filePath in addition to
// the console output.
func EnableFileLogging(filePath string) error {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		sink.Close()
	}
	sink = file
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		sink.Close()
		sink = nil
	}
}

func logMessage(level LogLevel, component, message string, fields map[string]any) {
	mu.RLock()
	minLevel := currentLevel
	file := sink
	redactions := secrets
	mu.RUnlock()

	if level < minLevel {
		return
	}

	message = redact(message, redactions)
	fields = redactFields(fields, redactions)

	entry := LogEntry{
		Level:     logLevelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	if pc, callerFile, line, ok := runtime.Caller(2); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			entry.Caller = fmt.Sprintf("%s:%d (%s)", callerFile, line, fn.Name())
		}
	}

	if file != nil {
		if data, err := json.Marshal(entry); err == nil {
			file.Write(append(data, '\n'))
		}
	}

	var fieldStr string
	if len(fields) > 0 {
		fieldStr = " " + formatFields(fields)
	}
	prefix := ""
	if component != "" {
		prefix = " " + component + ":"
	}
	log.Printf("[%s] [%s]%s %s%s", entry.Timestamp, entry.Level, prefix, message, fieldStr)

	if level == FATAL {
		os.Exit(1)
	}
}

func redact(s string, redactions []string) string {
	for _, secret := range redactions {
		s = strings.ReplaceAll(s, secret, "[redacted]")
	}
	return s
}

func redactFields(fields map[string]any, redactions []string) map[string]any {
	if len(fields) == 0 || len(redactions) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			out[k] = redact(s, redactions)
		} else {
			out[k] = v
		}
	}
	return out
}

func formatFields(fields map[string]any) string {
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func Debug(message string)                                       { logMessage(DEBUG, "", message, nil) }
func DebugC(component, message string)                           { logMessage(DEBUG, component, message, nil) }
func DebugF(message string, fields map[string]any)               { logMessage(DEBUG, "", message, fields) }
func DebugCF(component, message string, fields map[string]any)   { logMessage(DEBUG, component, message, fields) }
func Info(message string)                                        { logMessage(INFO, "", message, nil) }
func InfoC(component, message string)                            { logMessage(INFO, component, message, nil) }
func InfoF(message string, fields map[string]any)                { logMessage(INFO, "", message, fields) }
func InfoCF(component, message string, fields map[string]any)    { logMessage(INFO, component, message, fields) }
func Warn(message string)                                        { logMessage(WARN, "", message, nil) }
func WarnC(component, message string)                            { logMessage(WARN, component, message, nil) }
func WarnF(message string, fields map[string]any)                { logMessage(WARN, "", message, fields) }
func WarnCF(component, message string, fields map[string]any)    { logMessage(WARN, component, message, fields) }
func Error(message string)                                       { logMessage(ERROR, "", message, nil) }
func ErrorC(component, message string)                           { logMessage(ERROR, component, message, nil) }
func ErrorF(message string, fields map[string]any)               { logMessage(ERROR, "", message, fields) }
func ErrorCF(component, message string, fields map[string]any)   { logMessage(ERROR, component, message, fields) }
func Fatal(message string)                                       { logMessage(FATAL, "", message, nil) }
func FatalC(component, message string)                           { logMessage(FATAL, component, message, nil) }
func FatalCF(component, message string, fields map[string]any)   { logMessage(FATAL, component, message, fields) }
