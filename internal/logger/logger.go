package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// Debug level for detailed troubleshooting
	Debug LogLevel = iota
	// Info level for general operational entries
	Info
	// Warn level for non-critical issues
	Warn
	// Error level for errors that need attention
	Error
)

var levelNames = map[LogLevel]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

// String returns the upper-case level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// DirMode defines platform-specific directory permissions
var DirMode os.FileMode

func init() {
	if runtime.GOOS == "windows" {
		DirMode = 0666
	} else {
		DirMode = 0755
	}
}

// Logger represents our custom logger. Diagnostics never go to stdout,
// which carries the JSON event stream.
type Logger struct {
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	level       LogLevel
	mu          sync.Mutex
	rotator     *lumberjack.Logger
}

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// Config holds logger configuration
type Config struct {
	// LogLevel sets the minimum level to log
	LogLevel LogLevel
	// LogFile is the path to the log file. If empty, logs to stderr only
	LogFile string
	// MaxSizeMB is the size in megabytes at which the log file is rotated
	MaxSizeMB int
	// MaxAgeDays is how many days rotated files are kept
	MaxAgeDays int
	// Output overrides stderr as the console destination
	Output io.Writer
}

// Initialize sets up the default logger with configuration
func Initialize(config Config) error {
	l, err := NewLogger(config)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	old := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// NewLogger creates a new logger instance
func NewLogger(config Config) (*Logger, error) {
	console := config.Output
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{console}

	var rotator *lumberjack.Logger
	if config.LogFile != "" {
		config.LogFile = filepath.Clean(config.LogFile)
		if err := os.MkdirAll(filepath.Dir(config.LogFile), DirMode); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.MaxSizeMB,
			MaxAge:     config.MaxAgeDays,
			MaxBackups: 3,
			Compress:   true,
		}
		writers = append(writers, rotator)
	}

	multiWriter := io.MultiWriter(writers...)
	flags := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

	return &Logger{
		debugLogger: log.New(multiWriter, "DEBUG: ", flags),
		infoLogger:  log.New(multiWriter, "INFO: ", flags),
		warnLogger:  log.New(multiWriter, "WARN: ", flags),
		errorLogger: log.New(multiWriter, "ERROR: ", flags),
		level:       config.LogLevel,
		rotator:     rotator,
	}, nil
}

// Close properly closes the rotating log file if one is open
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(Debug, l.debugLogger, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(Info, l.infoLogger, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.logf(Warn, l.warnLogger, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(Error, l.errorLogger, format, v...)
}

func (l *Logger) logf(level LogLevel, target *log.Logger, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		// skip logf and the level method so Lshortfile names the caller
		target.Output(3, fmt.Sprintf(format, v...))
	}
}

// GetLogger returns the default logger instance. Before Initialize is called
// it returns an info-level logger writing to stderr.
func GetLogger() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger, _ = NewLogger(Config{LogLevel: Info})
	}
	return defaultLogger
}

// ParseLogLevel converts a string level to LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", level)
	}
}
