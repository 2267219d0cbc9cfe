// Package errors provides error classification and wrapping helpers shared by
// every OSCRouter worker. Transient I/O failures, invalid configuration, and
// fatal setup errors are all handled locally by the engine -- nothing in the
// router surfaces errors by unwinding to a caller.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/etcaddy/oscrouter/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes.
type ErrorClass int

const (
	// ErrorTransient covers connect-in-progress, connect-failed,
	// send-failed, and recv-timeout: the owning worker's reconnect loop
	// paces retries, it does not escalate.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid covers bad route/endpoint configuration and malformed
	// packet data.
	ErrorInvalid
	// ErrorFatal covers unrecoverable setup failures, e.g. the Supervisor
	// being unable to enumerate local network interfaces at start.
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

// Standard error variables for common conditions across workers.
var (
	// Worker lifecycle errors
	ErrAlreadyStarted = errors.New("worker already started")
	ErrNotStarted     = errors.New("worker not started")
	ErrAlreadyStopped = errors.New("worker already stopped")
	ErrShuttingDown   = errors.New("worker is shutting down")

	// Connection and socket errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrAddressInUse      = errors.New("address already bound")

	// Packet and framing errors
	ErrInvalidData   = errors.New("invalid packet data")
	ErrParsingFailed = errors.New("parsing failed")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// Configuration errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")
	ErrDuplicateRoute = errors.New("duplicate route in route set")

	// Reconnect pacing
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
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

// IsTransient checks if an error is transient and should be retried
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
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
		"retry",
		"reset by peer",
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

	if errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	fatalPatterns := []string{
		"fatal",
		"panic",
		"interface enumeration",
		"no such device",
	}

	for _, pattern := range fatalPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input or malformed packet data
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) || errors.Is(err, ErrParsingFailed)
}

// Classify returns the error class for an error. Unknown errors default to
// transient so a worker's reconnect loop keeps retrying rather than treating
// something recoverable as fatal.
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

	return ErrorTransient
}

// newClassified creates a new classified error.
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
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

// RetryConfig governs reconnect pacing for a worker's outer retry loop. The
// engine never retries delivery of a single dropped packet; this only paces
// how often a worker re-attempts binding or connecting its socket.
type RetryConfig struct {
	MaxRetries    int // 0 means retry indefinitely
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultReconnectConfig returns a fixed-delay, unlimited-retry config, which
// matches the reconnect_delay_ms behavior workers are started with.
func DefaultReconnectConfig(delay time.Duration) RetryConfig {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return RetryConfig{
		MaxRetries:    0,
		InitialDelay:  delay,
		MaxDelay:      delay,
		BackoffFactor: 1.0,
	}
}

// ToRetryConfig converts to the pkg/retry framework's Config type. A
// MaxRetries of 0 (retry indefinitely) maps to retry.Config's own
// <= 0 == indefinite convention rather than "one attempt".
func (rc RetryConfig) ToRetryConfig() retry.Config {
	maxAttempts := 0
	if rc.MaxRetries > 0 {
		maxAttempts = rc.MaxRetries + 1
	}
	return retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    false,
	}
}
