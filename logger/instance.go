package logger

import (
	"fmt"
	"strings"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

// Initialize default logger instance
func init() {
	logger, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default logger: %v", err))
	}
	defaultLogger = logger
}

// InitFromConfig initializes the logger from configuration
func InitFromConfig(level, filePath string, maxSize, maxBackups int, console bool) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger, err := New(LoggerConfig{
		Level:      logLevel,
		FilePath:   filePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Console:    console,
	})
	if err != nil {
		return err
	}

	Replace(logger)
	return nil
}

// Replace swaps the default logger, closing the previous one.
func Replace(logger *Logger) {
	mu.Lock()
	old := defaultLogger
	defaultLogger = logger
	mu.Unlock()

	if old != nil && old != logger {
		old.Close()
	}
}

// SetLevel changes the level of the default logger.
func SetLevel(level string) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	current().SetLevel(logLevel)
	return nil
}

// ParseLogLevel parses log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %s", level)
	}
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Enabled reports whether the default logger writes messages at level.
func Enabled(level LogLevel) bool {
	return current().Enabled(level)
}

// Debug logs debug level messages
func Debug(format string, args ...interface{}) {
	current().log(3, DEBUG, format, args...)
}

// Info logs info level messages
func Info(format string, args ...interface{}) {
	current().log(3, INFO, format, args...)
}

// Warn logs warning level messages
func Warn(format string, args ...interface{}) {
	current().log(3, WARN, format, args...)
}

// Error logs error level messages
func Error(format string, args ...interface{}) {
	current().log(3, ERROR, format, args...)
}

// Close closes the logger
func Close() error {
	return current().Close()
}
