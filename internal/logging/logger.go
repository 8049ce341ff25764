package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger levels
const (
	DEBUG = iota
	INFO
	WARN
	ERROR
)

var (
	globalMu     sync.Mutex
	globalLogger *Logger

	defaultLogDir  = ".casepilot/logs"
	defaultLogFile = "casepilot.log"
	maxLogSize     = int64(10 * 1024 * 1024) // 10MB
	maxLogAge      = 7 * 24 * time.Hour
)

// Logger writes leveled printf-style lines to a file or writer
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	file   *os.File
	logger *log.Logger
	level  int

	logPath     string
	maxSize     int64
	currentSize int64
}

// Initialize sets up the global logger under <projectDir>/.casepilot/logs.
// Calling it again replaces the previous global logger.
func Initialize(projectDir string) error {
	l := &Logger{level: INFO, maxSize: maxLogSize}

	logDir := filepath.Join(projectDir, defaultLogDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	l.logPath = filepath.Join(logDir, defaultLogFile)
	if err := l.openLogFile(); err != nil {
		return err
	}

	globalMu.Lock()
	old := globalLogger
	globalLogger = l
	globalMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// NewLogger returns a logger writing to w without rotation
func NewLogger(w io.Writer) *Logger {
	return &Logger{
		level:  INFO,
		out:    w,
		logger: log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLogger(io.Discard)
}

// GetLogger returns the global logger. Before Initialize it discards output.
func GetLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = Discard()
	}
	return globalLogger
}

// SetLogger replaces the global logger
func SetLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

func (l *Logger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if info, err := file.Stat(); err == nil {
		l.currentSize = info.Size()
	}
	l.file = file
	l.out = file
	l.logger = log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	return nil
}

func (l *Logger) rotateIfNeeded() error {
	if l.file == nil || l.currentSize < l.maxSize {
		return nil
	}
	l.file.Close()

	timestamp := time.Now().Format("20060102-150405")
	rotated := filepath.Join(filepath.Dir(l.logPath), fmt.Sprintf("casepilot-%s.log", timestamp))
	if err := os.Rename(l.logPath, rotated); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return err
	}
	go cleanOldLogs(filepath.Dir(l.logPath))
	return nil
}

func cleanOldLogs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxLogAge)
	for _, e := range entries {
		if e.IsDir() || e.Name() == defaultLogFile || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func (l *Logger) write(level int, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level || l.logger == nil {
		return
	}
	l.rotateIfNeeded()

	line := fmt.Sprintf("[%s] %s", LevelName(level), fmt.Sprintf(format, v...))
	l.logger.Output(3, line)
	l.currentSize += int64(len(line)) + 1
}

// LevelName returns the label used for a level in log lines
func LevelName(level int) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string such as "debug" to a level
func ParseLevel(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.write(DEBUG, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.write(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.write(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.write(ERROR, format, v...)
}

// SetLevel sets the minimum level written
func (l *Logger) SetLevel(level int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.logger = nil
		return err
	}
	return nil
}

// Path returns the log file path, empty for writer-backed loggers
func (l *Logger) Path() string {
	return l.logPath
}

// Debug logs a debug message using the global logger
func Debug(format string, v ...interface{}) {
	GetLogger().Debug(format, v...)
}

// Info logs an info message using the global logger
func Info(format string, v ...interface{}) {
	GetLogger().Info(format, v...)
}

// Warn logs a warning message using the global logger
func Warn(format string, v ...interface{}) {
	GetLogger().Warn(format, v...)
}

// Error logs an error message using the global logger
func Error(format string, v ...interface{}) {
	GetLogger().Error(format, v...)
}

// Writer returns an io.Writer that logs each write at INFO
func Writer() io.Writer {
	return &logWriter{logger: GetLogger()}
}

type logWriter struct {
	logger *Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Info("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// RedirectStandardLog sends the standard log package through the global logger
func RedirectStandardLog() {
	log.SetOutput(Writer())
	log.SetFlags(0)
}
