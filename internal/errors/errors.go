package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConfig represents configuration validation errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeToolNotFound represents a missing backup or compression binary
	ErrorTypeToolNotFound ErrorType = "tool_not_found"
	// ErrorTypeAlreadyRunning represents a competing backup against the same target
	ErrorTypeAlreadyRunning ErrorType = "already_running"
	// ErrorTypeConnection represents database connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeUnsupportedFilter represents a filter the selected tool cannot honor
	ErrorTypeUnsupportedFilter ErrorType = "unsupported_filter"
	// ErrorTypeIncrementalUnavailable represents an incremental request downgraded to full
	ErrorTypeIncrementalUnavailable ErrorType = "incremental_unavailable"
	// ErrorTypeWatcherPoll represents a failed process-list poll; always fatal
	ErrorTypeWatcherPoll ErrorType = "watcher_poll"
	// ErrorTypeExecution represents a backup child process failure
	ErrorTypeExecution ErrorType = "execution"
	// ErrorTypeInterrupted represents operator cancellation mid-run
	ErrorTypeInterrupted ErrorType = "interrupted"
	// ErrorTypeStorage represents artifact upload errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeEncryption represents artifact encryption errors
	ErrorTypeEncryption ErrorType = "encryption"
	// ErrorTypeVerification represents artifact verification errors
	ErrorTypeVerification ErrorType = "verification"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the user-facing message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewToolNotFoundError reports a binary that could not be resolved on PATH
func NewToolNotFoundError(binary string, cause error) *AppError {
	return NewAppError(ErrorTypeToolNotFound,
		fmt.Sprintf("required binary %q not found on PATH", binary), cause).
		WithContext("binary", binary).
		WithUserMessage(fmt.Sprintf("%s is not installed or not on PATH", binary))
}

// NewAlreadyRunningError reports a competing backup process
func NewAlreadyRunningError(pid int32, cmdline string) *AppError {
	return NewAppError(ErrorTypeAlreadyRunning,
		fmt.Sprintf("a backup against the same target is already running (pid %d)", pid), nil).
		WithContext("pid", pid).
		WithContext("cmdline", cmdline).
		WithUserMessage("another backup for this server is already in progress")
}

// NewConnectionError reports a failed connectivity probe
func NewConnectionError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConnection, message, cause)
}

// NewUnsupportedFilterError reports a filter the selected tool rejects
func NewUnsupportedFilterError(tool string) *AppError {
	return NewAppError(ErrorTypeUnsupportedFilter,
		fmt.Sprintf("%s does not support database or table filters", tool), nil).
		WithContext("tool", tool)
}

// NewWatcherPollError reports a failed process-list poll
func NewWatcherPollError(cause error) *AppError {
	return NewAppError(ErrorTypeWatcherPoll,
		"hang watcher could not observe the server process list", cause).
		WithUserMessage("lost visibility of the server while a backup was running; aborting")
}

// NewExecutionError reports a backup child process failure
func NewExecutionError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeExecution, message, cause)
}

// NewInterruptedError reports an operator cancellation
func NewInterruptedError(cause error) *AppError {
	return NewAppError(ErrorTypeInterrupted, "backup interrupted", cause)
}

// NewConfigError reports an invalid configuration value
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfig, message, cause)
}

// NewStorageError reports an artifact upload failure
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeStorage, message, cause)
}

// NewEncryptionError reports an artifact encryption failure
func NewEncryptionError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeEncryption, message, cause)
}

// NewVerificationError reports a failed artifact check
func NewVerificationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeVerification, message, cause)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	// Check if it's already an AppError
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "an unexpected error occurred", err)
}

// classifyMySQLError classifies MySQL-specific errors
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return NewAppError(ErrorTypeConnection,
				"database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1044: // Access denied for database
			return NewAppError(ErrorTypeConnection,
				"user lacks access to the requested database", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003: // Can't connect to MySQL server
			return NewAppError(ErrorTypeConnection,
				"cannot connect to MySQL server - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2006: // MySQL server has gone away
			return NewAppError(ErrorTypeConnection,
				"MySQL server connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeConnection,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, sql.ErrConnDone) {
		return NewAppError(ErrorTypeConnection, "database connection is closed", err)
	}

	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewAppError(ErrorTypeConnection, "network operation timed out", err)
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewAppError(ErrorTypeConnection, "failed to establish network connection", err)
		case "read", "write":
			return NewAppError(ErrorTypeConnection, "network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(ErrorTypeExecution, "operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewInterruptedError(err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeConfig,
				fmt.Sprintf("file or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypeExecution,
				fmt.Sprintf("permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeExecution, "no space left on device", err)
		}
	}

	return nil
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given error type
func IsType(err error, t ErrorType) bool {
	return GetErrorType(err) == t
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return err.Error()
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return NewAppError(appErr.Type, message, err)
	}

	classifier := NewErrorClassifier()
	classifiedErr := classifier.ClassifyError(err)
	classifiedErr.Message = message
	return classifiedErr
}
