package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level
	DEBUG LogLevel = iota
	// INFO level
	INFO
	// WARN level
	WARN
	// ERROR level
	ERROR
)

var zerologLevels = map[LogLevel]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
}

// Logger writes leveled messages to the console and, optionally, to a
// size-rotated JSON log file.
type Logger struct {
	mu   sync.RWMutex
	zl   zerolog.Logger
	file *rotatingFile
}

// LoggerConfig represents the configuration for the logger
type LoggerConfig struct {
	// Log level
	Level LogLevel
	// Log file path, empty disables file output
	FilePath string
	// Maximum log file size in MB
	MaxSize int
	// Maximum number of backups
	MaxBackups int
	// Whether to log to the console
	Console bool
	// Console destination, defaults to stderr. stdout carries the protocol
	// and must never be used here.
	Output io.Writer
}

// DefaultConfig returns default logger configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      INFO,
		MaxSize:    10, // 10MB
		MaxBackups: 5,
		Console:    true,
	}
}

// New creates a new logger
func New(config LoggerConfig) (*Logger, error) {
	var writers []io.Writer

	if config.Console {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05.000",
			NoColor:    config.Output != nil,
		})
	}

	var file *rotatingFile
	if config.FilePath != "" {
		var err error
		file, err = openRotatingFile(config.FilePath, config.MaxSize, config.MaxBackups)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	var zl zerolog.Logger
	switch len(writers) {
	case 0:
		zl = zerolog.Nop()
	case 1:
		zl = zerolog.New(writers[0])
	default:
		zl = zerolog.New(zerolog.MultiLevelWriter(writers...))
	}

	return &Logger{
		zl:   zl.Level(zerologLevels[config.Level]).With().Timestamp().Caller().Logger(),
		file: file,
	}, nil
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = l.zl.Level(zerologLevels[level])
}

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl.GetLevel() <= zerologLevels[level]
}

// log emits one message. skip counts the frames between the caller of
// interest and this method.
func (l *Logger) log(skip int, level LogLevel, format string, args ...interface{}) {
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()

	zl.WithLevel(zerologLevels[level]).CallerSkipFrame(skip).Msgf(format, args...)
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(2, DEBUG, format, args...)
}

// Info logs info level messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(2, INFO, format, args...)
}

// Warn logs warning level messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(2, WARN, format, args...)
}

// Error logs error level messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(2, ERROR, format, args...)
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// rotatingFile is an io.Writer that renames the log file once it grows past
// maxSize and keeps at most maxBackups renamed copies.
type rotatingFile struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	maxSize     int64
	maxBackups  int
	currentSize int64
}

func openRotatingFile(path string, maxSizeMB, maxBackups int) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get log file info: %w", err)
	}

	return &rotatingFile{
		path:        path,
		file:        file,
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		maxBackups:  maxBackups,
		currentSize: info.Size(),
	}, nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}

	n, err := r.file.Write(p)
	r.currentSize += int64(n)
	if err != nil {
		return n, err
	}

	if r.maxSize > 0 && r.currentSize >= r.maxSize {
		r.rotate()
	}
	return n, nil
}

// rotate rotates the log file
func (r *rotatingFile) rotate() {
	r.file.Close()

	timestamp := time.Now().Format("20060102-150405.000")
	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s%s", name, timestamp, ext))

	if err := os.Rename(r.path, backupPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
	}

	r.cleanOldLogs()

	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create new log file: %v\n", err)
		r.file = nil
		return
	}
	r.file = file
	r.currentSize = 0
}

// cleanOldLogs removes the oldest backups beyond maxBackups
func (r *rotatingFile) cleanOldLogs() {
	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]

	matches, err := filepath.Glob(filepath.Join(dir, name+".*"+ext))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to find old log files: %v\n", err)
		return
	}
	if len(matches) <= r.maxBackups {
		return
	}

	type fileInfo struct {
		path string
		time time.Time
	}
	files := make([]fileInfo, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{match, info.ModTime()})
	}

	// oldest first; names embed the rotation time, which breaks mtime ties
	sort.Slice(files, func(i, j int) bool {
		if files[i].time.Equal(files[j].time) {
			return files[i].path < files[j].path
		}
		return files[i].time.Before(files[j].time)
	})

	for i := 0; i < len(files)-r.maxBackups; i++ {
		os.Remove(files[i].path)
	}
}

// Close closes the underlying file
func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
