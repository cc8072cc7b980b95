package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a failure by the boundary it crossed.
type ErrorType string

const (
	ErrTypeNetwork    ErrorType = "network"
	ErrTypeProtocol   ErrorType = "protocol"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeDatabase   ErrorType = "database"
	ErrTypeFileSystem ErrorType = "filesystem"
	ErrTypeQuota      ErrorType = "quota"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeInternal   ErrorType = "internal"
)

// Error is a typed error with an optional cause and hints for the operator.
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion appends an operator hint.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a typed error.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(errType ErrorType, format string, args ...any) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a type and message to an existing error.
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, errType ErrorType, format string, args ...any) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Cause: err}
}

// IsType reports whether any error in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type == errType
	}
	return false
}

// GetType returns the type of the first typed error in the chain, or
// ErrTypeInternal when there is none.
func GetType(err error) ErrorType {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return ErrTypeInternal
}

// NewConfigError reports a bad configuration value.
func NewConfigError(message, key string) *Error {
	err := New(ErrTypeConfig, message)
	if key != "" {
		err.Message = fmt.Sprintf("%s (key: %s)", message, key)
	}
	return err.WithSuggestion("Run 'optimus config list' to inspect the effective configuration")
}

// Message returns the user-facing text of err. For typed errors that is the
// message, followed by the cause unless the error is a validation or lookup
// failure whose message already says everything.
func Message(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		if typed.Cause != nil && typed.Type != ErrTypeValidation && typed.Type != ErrTypeNotFound {
			return fmt.Sprintf("%s: %v", typed.Message, typed.Cause)
		}
		return typed.Message
	}
	return err.Error()
}
