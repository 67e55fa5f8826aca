package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var levelNames = map[LogLevel]string{
	DEBUG:  "DEBUG",
	INFO:   "INFO",
	WARN:   "WARN",
	ERROR:  "ERROR",
	SILENT: "SILENT",
}

// zapLevel maps a LogLevel onto zap's scale. SILENT sits above Fatal so nothing is enabled.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1
	}
}

// Format selects the zap encoder
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Logger provides leveled logging with module support
type Logger struct {
	level   zap.AtomicLevel
	current *levelHolder
	sugar   *zap.SugaredLogger
	modules *sync.Map // module name -> *zap.SugaredLogger
}

type levelHolder struct {
	mu    sync.Mutex
	level LogLevel
}

var defaultLogger *Logger
var once sync.Once

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	InitWithFormat(level, output, useColor, FormatConsole)
}

// InitWithFormat initializes the global logger with an explicit encoder format
func InitWithFormat(level LogLevel, output io.Writer, useColor bool, format Format) {
	once.Do(func() {
		defaultLogger = NewWithFormat(level, output, useColor, format)
	})
}

// New creates a new Logger instance writing console-encoded lines
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	return NewWithFormat(level, output, useColor, FormatConsole)
}

// NewWithFormat creates a new Logger instance
func NewWithFormat(level LogLevel, output io.Writer, useColor bool, format Format) *Logger {
	if output == nil {
		output = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if useColor && format != FormatJSON {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var enc zapcore.Encoder
	if format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(enc, zapcore.AddSync(output), atom)

	return &Logger{
		level:   atom,
		current: &levelHolder{level: level},
		sugar:   zap.New(core).Sugar(),
		modules: &sync.Map{},
	}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.current.mu.Lock()
	defer l.current.mu.Unlock()
	l.current.level = level
	l.level.SetLevel(level.zapLevel())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.current.mu.Lock()
	defer l.current.mu.Unlock()
	return l.current.level
}

// With returns a child logger that attaches key/value pairs to every entry.
// The child shares the parent's level.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		level:   l.level,
		current: l.current,
		sugar:   l.sugar.With(keysAndValues...),
		modules: &sync.Map{},
	}
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) module(module string) *zap.SugaredLogger {
	if module == "" {
		return l.sugar
	}
	if s, ok := l.modules.Load(module); ok {
		return s.(*zap.SugaredLogger)
	}
	s, _ := l.modules.LoadOrStore(module, l.sugar.Named(module))
	return s.(*zap.SugaredLogger)
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.module(module).Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.module(module).Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.module(module).Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.module(module).Errorf(format, args...)
}

// Global logger functions (use default logger)

// Default returns the global logger, or a silent one before Init
func Default() *Logger {
	if defaultLogger != nil {
		return defaultLogger
	}
	return nop
}

var nop = New(SILENT, io.Discard, false)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

// Sync flushes the global logger
func Sync() error {
	if defaultLogger != nil {
		return defaultLogger.Sync()
	}
	return nil
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// ParseFormat parses an encoder format string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "console", "text":
		return FormatConsole, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatConsole, fmt.Errorf("invalid log format: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
