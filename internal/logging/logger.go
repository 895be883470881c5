package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except critical errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
	// Rotation settings for the file sink. Zero values fall back to
	// 50 MB / 3 backups / 30 days.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   false,
		})
	}

	switch config.Level {
	case LogLevelQuiet:
		logger.SetLevel(logrus.ErrorLevel)
	case LogLevelNormal:
		logger.SetLevel(logrus.InfoLevel)
	case LogLevelVerbose:
		logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		logger.SetLevel(logrus.TraceLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	// The file sink keeps run history on disk with rotation; console
	// output is mirrored, not replaced.
	if config.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}
		if rotating.MaxSize == 0 {
			rotating.MaxSize = 50
		}
		if rotating.MaxBackups == 0 {
			rotating.MaxBackups = 3
		}
		if rotating.MaxAge == 0 {
			rotating.MaxAge = 30
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stdout, rotating))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, rotating))
		}
	}

	return &Logger{
		logger: logger,
		level:  config.Level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	config := Config{
		Level:      LogLevelNormal,
		Output:     os.Stdout,
		Format:     "text",
		ShowCaller: false,
	}

	logger, _ := NewLogger(config)
	return logger
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// Backup operation logging methods

// LogConnectionProbe logs the preflight connectivity check
func (l *Logger) LogConnectionProbe(target string, tableCount int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "connection_probe",
		"target":      target,
		"table_count": tableCount,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Connection probe failed")
	} else {
		l.logger.WithFields(fields).Info("Connection probe succeeded")
	}
}

// LogBackupStart logs the launch of a backup child process
func (l *Logger) LogBackupStart(tool, artifact string) {
	l.logger.WithFields(logrus.Fields{
		"operation": "backup",
		"tool":      tool,
		"artifact":  artifact,
	}).Info("Backup started")
}

// LogBackupResult logs the outcome of a backup run
func (l *Logger) LogBackupResult(tool, artifact string, sizeBytes int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "backup",
		"tool":      tool,
		"artifact":  artifact,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Backup failed")
	} else {
		fields["size_bytes"] = sizeBytes
		l.logger.WithFields(fields).Info("Backup completed")
	}
}

// LogSessionKill logs a kill issued against a blocked session
func (l *Logger) LogSessionKill(sessionID uint64, err error) {
	fields := logrus.Fields{
		"operation":  "session_kill",
		"session_id": sessionID,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Failed to kill blocked session")
	} else {
		l.logger.WithFields(fields).Warn("Killed session blocked by backup lock")
	}
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	switch level {
	case LogLevelQuiet:
		l.logger.SetLevel(logrus.ErrorLevel)
	case LogLevelNormal:
		l.logger.SetLevel(logrus.InfoLevel)
	case LogLevelVerbose:
		l.logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		l.logger.SetLevel(logrus.TraceLevel)
	}
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet:
		return l.logger.IsLevelEnabled(logrus.ErrorLevel)
	case LogLevelNormal:
		return l.logger.IsLevelEnabled(logrus.InfoLevel)
	case LogLevelVerbose:
		return l.logger.IsLevelEnabled(logrus.DebugLevel)
	case LogLevelDebug:
		return l.logger.IsLevelEnabled(logrus.TraceLevel)
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}

	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		duration := time.Since(startTime)
		logFields["status"] = "completed"
		logFields["duration"] = duration.String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// SanitizeCmdline masks password values in a command line before logging.
// Process listings of competing backups may carry inline credentials.
func SanitizeCmdline(cmdline string) string {
	for _, marker := range []string{"--password=", "-p"} {
		idx := strings.Index(cmdline, marker)
		if idx == -1 {
			continue
		}
		if marker == "-p" {
			// Only mask -p when it is a standalone token with an attached
			// value, not a prefix of another flag such as --port.
			if idx > 0 && cmdline[idx-1] != ' ' {
				continue
			}
			rest := cmdline[idx+len(marker):]
			if rest == "" || strings.HasPrefix(rest, "-") || strings.HasPrefix(rest, " ") {
				continue
			}
		}
		start := idx + len(marker)
		end := strings.Index(cmdline[start:], " ")
		if end == -1 {
			end = len(cmdline)
		} else {
			end += start
		}
		cmdline = cmdline[:start] + "***" + cmdline[end:]
	}

	if len(cmdline) > 500 {
		return cmdline[:500] + "... [truncated]"
	}

	return cmdline
}
