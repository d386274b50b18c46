// Package errors provides error classification, retry handling and the fatal
// schema error for the EFT pipeline. Data problems inside a batch never surface
// as errors; they are filtered by the stages. Only a schema failure aborts a run,
// and only storage writes are retried.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-eft-pipeline/internal/config"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork   ErrorType = "network"   // Network connectivity issues
	ErrorTypeTimeout   ErrorType = "timeout"   // Deadline or timeout
	ErrorTypeTemporary ErrorType = "temporary" // Locked/busy database and similar transient failures

	// Non-retryable error types
	ErrorTypeSchema        ErrorType = "schema"        // Batch is missing required columns or is empty
	ErrorTypeValidation    ErrorType = "validation"    // Malformed input
	ErrorTypeStorage       ErrorType = "storage"       // Persistent storage failure
	ErrorTypeConfiguration ErrorType = "configuration" // Configuration errors
	ErrorTypeIO            ErrorType = "io"            // File read/write errors
	ErrorTypeInternal      ErrorType = "internal"      // Internal application errors

	ErrorTypeUnknown ErrorType = "unknown"
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ErrSchemaValidation is matched by every *SchemaError via errors.Is.
var ErrSchemaValidation = errors.New("schema validation failed")

// SchemaError is returned when a batch fails schema validation. It is the only
// stage failure that aborts a pipeline run.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Violations, "; "))
}

// Is reports whether target is ErrSchemaValidation.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaValidation
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err         error                  `json:"error"`
	Type        ErrorType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Retryable   bool                   `json:"retryable"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	Context     map[string]interface{} `json:"context"`
	Timestamp   time.Time              `json:"timestamp"`
	Attempts    int                    `json:"attempts"`
	LastAttempt time.Time              `json:"last_attempt"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is checks if the error is of the specified type
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// ErrorClassifier handles error classification and retry logic
type ErrorClassifier struct {
	config config.ErrorHandlingConfig
	logger *slog.Logger
	mu     sync.RWMutex
	stats  map[ErrorType]ErrorStats
}

// ErrorStats tracks error statistics for monitoring
type ErrorStats struct {
	Count     int64     `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
	FirstSeen time.Time `json:"first_seen"`
}

// NewErrorClassifier creates a new error classifier with the given configuration
func NewErrorClassifier(cfg config.ErrorHandlingConfig, logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorClassifier{
		config: cfg,
		logger: logger,
		stats:  make(map[ErrorType]ErrorStats),
	}
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata
func (ec *ErrorClassifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := classifyErrorType(err)
	classified := &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  determineSeverity(errorType),
		Retryable: isRetryableType(errorType),
		Component: component,
		Operation: operation,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}

	ec.updateStats(errorType)

	ec.logger.Debug("error classified",
		"type", errorType,
		"severity", classified.Severity.String(),
		"retryable", classified.Retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return classified
}

// classifyErrorType determines the error type based on the error content
func classifyErrorType(err error) ErrorType {
	if errors.Is(err, ErrSchemaValidation) {
		return ErrorTypeSchema
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	// DuckDB and SQLite report contention with these phrases
	if strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database is busy") ||
		strings.Contains(errStr, "sqlite_busy") ||
		strings.Contains(errStr, "conflict on tuple") ||
		strings.Contains(errStr, "temporarily unavailable") {
		return ErrorTypeTemporary
	}

	if strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "read-only file system") {
		return ErrorTypeIO
	}

	if strings.Contains(errStr, "config") ||
		strings.Contains(errStr, "not configured") {
		return ErrorTypeConfiguration
	}

	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "malformed") ||
		strings.Contains(errStr, "parse") {
		return ErrorTypeValidation
	}

	if strings.Contains(errStr, "storage") ||
		strings.Contains(errStr, "constraint") ||
		strings.Contains(errStr, "sql") {
		return ErrorTypeStorage
	}

	if strings.Contains(errStr, "panic") ||
		strings.Contains(errStr, "runtime error") {
		return ErrorTypeInternal
	}

	return ErrorTypeUnknown
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "no route to host"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// determineSeverity assigns a severity level based on error type
func determineSeverity(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeSchema, ErrorTypeInternal:
		return SeverityCritical
	case ErrorTypeConfiguration, ErrorTypeStorage, ErrorTypeIO:
		return SeverityHigh
	case ErrorTypeValidation:
		return SeverityMedium
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeTemporary:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// isRetryableType determines if an error type should be retried
func isRetryableType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeTemporary:
		return true
	default:
		return false
	}
}

// updateStats updates error statistics
func (ec *ErrorClassifier) updateStats(errorType ErrorType) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := ec.stats[errorType]
	stats.Count++
	stats.LastSeen = time.Now()
	if stats.FirstSeen.IsZero() {
		stats.FirstSeen = stats.LastSeen
	}
	ec.stats[errorType] = stats
}

// Retry executes fn until it succeeds, returns a non-retryable error, or the
// component's retry policy is exhausted.
func (ec *ErrorClassifier) Retry(ctx context.Context, component, operation string, fn func() error) error {
	policy := ec.config.PolicyFor(component)
	strategy := createBackoffStrategy(policy)

	var lastErr *ClassifiedError
	attempts := 0

	for {
		attempts++

		err := fn()
		if err == nil {
			if attempts > 1 {
				ec.logger.Info("operation succeeded after retry",
					"component", component,
					"operation", operation,
					"attempts", attempts)
			}
			return nil
		}

		lastErr = ec.Classify(err, component, operation)
		lastErr.Attempts = attempts
		lastErr.LastAttempt = time.Now()

		ec.logger.Warn("operation failed",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"error_type", lastErr.Type,
			"retryable", lastErr.Retryable,
			"error", err.Error())

		if !lastErr.Retryable || attempts >= policy.MaxAttempts {
			break
		}

		next := strategy.NextBackOff()
		if next == backoff.Stop {
			break
		}

		select {
		case <-time.After(next):
		case <-ctx.Done():
			return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
		}
	}

	ec.logger.Error("operation failed after all retries",
		"component", component,
		"operation", operation,
		"attempts", attempts)
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// createBackoffStrategy creates a backoff strategy based on configuration
func createBackoffStrategy(policy config.RetryPolicyConfig) backoff.BackOff {
	initialDelay, _ := time.ParseDuration(policy.InitialDelay)
	maxDelay, _ := time.ParseDuration(policy.MaxDelay)
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	var strategy backoff.BackOff

	switch policy.BackoffStrategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(initialDelay)
	case "linear":
		strategy = &LinearBackoff{interval: initialDelay, max: maxDelay}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = initialDelay
		exponential.MaxInterval = maxDelay
		exponential.MaxElapsedTime = 0
		if !policy.Jitter {
			exponential.RandomizationFactor = 0
		}
		exponential.Reset()
		strategy = exponential
	}

	if policy.Jitter && policy.BackoffStrategy != "" && policy.BackoffStrategy != "exponential" {
		strategy = &JitteredBackoff{BackOff: strategy}
	}

	maxRetries := policy.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(strategy, uint64(maxRetries))
}

// GetStats returns a copy of the error statistics
func (ec *ErrorClassifier) GetStats() map[ErrorType]ErrorStats {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	stats := make(map[ErrorType]ErrorStats, len(ec.stats))
	for k, v := range ec.stats {
		stats[k] = v
	}
	return stats
}

// LinearBackoff implements a simple linear backoff strategy
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds ±10% jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	jitter := float64(next) * 0.1
	offset := (2.0*float64(time.Now().UnixNano()%1000)/1000.0 - 1.0) * jitter
	return next + time.Duration(offset)
}

// WrapError wraps an error with additional context
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType extracts the error type from a classified error
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	if errors.Is(err, ErrSchemaValidation) {
		return ErrorTypeSchema
	}
	return ErrorTypeUnknown
}

// IsSchemaError reports whether err aborted a run at schema validation.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchemaValidation)
}

// SchemaViolations returns the violation list carried by a schema error, if any.
func SchemaViolations(err error) []string {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Violations
	}
	return nil
}
