package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried by the caller
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input, configuration or usage
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Connector lifecycle errors
	ErrNotConnected     = errors.New("connector not connected")
	ErrAlreadyConnected = errors.New("connector already connected")
	ErrDisposed         = errors.New("connector disposed")
	ErrNoAdapter        = errors.New("no protocol adapter given")
	ErrNoModelAccess    = errors.New("no model access available")

	// Connection and networking errors
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrConnectFailed     = errors.New("connect failed")
	ErrWriteFailed       = errors.New("write failed")
	ErrReadFailed        = errors.New("read failed")

	// Model access errors
	ErrNotFound        = errors.New("element does not exist")
	ErrWrongKind       = errors.New("element registered with other kind")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrUnbalancedScope = errors.New("unbalanced model scope")
	ErrNotSupported    = errors.New("operation not supported")

	// Translation and data errors
	ErrInvalidData       = errors.New("invalid data format")
	ErrTranslationFailed = errors.New("translation failed")

	// Service state and reconfiguration errors
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownParameter  = errors.New("unknown parameter")
	ErrReconfigureFailed = errors.New("reconfiguration failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
	ErrUnknownType   = errors.New("unknown connector type")

	// Resource errors
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRateLimited       = errors.New("rate limited")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried by the caller
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrConnectFailed) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"network",
		"temporary",
		"unavailable",
		"broken pipe",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	if errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrDisposed) ||
		errors.Is(err, ErrResourceExhausted) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"fatal", "panic", "out of memory"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input or usage
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrTranslationFailed) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWrongKind) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrUnbalancedScope) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnknownParameter)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Unknown errors default to transient, the caller decides on retries
	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// NotFound reports a qualified name that does not exist in a model.
func NotFound(component, method, qName string) error {
	return WrapInvalid(fmt.Errorf("%w: %s", ErrNotFound, qName), component, method, "element lookup")
}

// WrongKind reports a qualified name that is registered as the other node kind
// (primitive property vs. struct).
func WrongKind(component, method, qName, registeredAs string) error {
	return WrapInvalid(fmt.Errorf("%w: %s is already registered for %s", ErrWrongKind, qName, registeredAs),
		component, method, "element kind check")
}
